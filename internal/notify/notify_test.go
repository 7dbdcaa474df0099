package notify

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/stretchr/testify/require"
)

func TestNewMailerFallsBackToLog(t *testing.T) {
	_, ok := NewMailer("", "Kolesa", "noreply@kolesa.kz").(LogMailer)
	require.True(t, ok)
	_, ok = NewMailer("SG.key", "Kolesa", "noreply@kolesa.kz").(*SendGridMailer)
	require.True(t, ok)
}

func TestLogSendersMaskRecipients(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf, "text")
	defer logger.SetOutput(os.Stderr, "text")
	ctx := context.Background()

	require.NoError(t, LogSMSSender{}.SendSMS(ctx, "+77012345678", "code 123456"))
	require.Contains(t, buf.String(), "+770****678")
	require.NotContains(t, buf.String(), "+77012345678")

	require.NoError(t, LogPushSender{}.SendPush(ctx, "abcdefghijklmnop", "Hi", "there", nil))
	require.Contains(t, buf.String(), "abcdefgh...")
	require.NotContains(t, buf.String(), "ijklmnop")
}
