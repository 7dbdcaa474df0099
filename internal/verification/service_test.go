package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recordingSMS struct {
	mu   sync.Mutex
	sent map[string]string
}

func (r *recordingSMS) SendSMS(ctx context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string]string{}
	}
	r.sent[to] = text
	return nil
}

type recordingMailer struct {
	to, subject, text string
}

func (r *recordingMailer) SendEmail(ctx context.Context, to, subject, text, html string) error {
	r.to, r.subject, r.text = to, subject, text
	return nil
}

func newService(t *testing.T, store Store) (*Service, *recordingSMS, *recordingMailer) {
	t.Helper()
	sms, mail := &recordingSMS{}, &recordingMailer{}
	return NewService(store, sms, mail, "https://kolesa.kz"), sms, mail
}

func stores(t *testing.T) map[string]Store {
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()})),
	}
}

func TestPhoneCodeRoundTrip(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, sms, _ := newService(t, st)
			ctx := context.Background()

			code, err := svc.SendPhoneCode(ctx, "+77012345678", PurposePhone)
			require.NoError(t, err)
			require.Len(t, code, CodeLength)
			require.Contains(t, sms.sent["+77012345678"], code)

			// codes are scoped by purpose
			err = svc.CheckPhoneCode(ctx, "+77012345678", PurposeReset, code)
			require.True(t, apperr.Is(err, apperr.KindValidation))

			require.NoError(t, svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, code))
			// single use
			err = svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, code)
			require.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestPhoneCodeAttemptsExhausted(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, _, _ := newService(t, st)
			ctx := context.Background()
			code, err := svc.SendPhoneCode(ctx, "+77012345678", PurposePhone)
			require.NoError(t, err)

			wrong := "000000"
			if code == wrong {
				wrong = "111111"
			}
			for i := 0; i < MaxCodeAttempts; i++ {
				err := svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, wrong)
				require.Error(t, err)
			}
			// the right code no longer works
			require.Error(t, svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, code))
		})
	}
}

func TestNewCodeReplacesOld(t *testing.T) {
	svc, _, _ := newService(t, NewMemoryStore())
	ctx := context.Background()
	first, _ := svc.SendPhoneCode(ctx, "+77012345678", PurposePhone)
	second, _ := svc.SendPhoneCode(ctx, "+77012345678", PurposePhone)
	if first != second {
		require.Error(t, svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, first))
	}
	require.NoError(t, svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, second))
}

func TestPhoneCodeExpires(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()
	svc, _, _ := newService(t, NewRedisStore(redis.NewClient(&redis.Options{Addr: m.Addr()})))
	ctx := context.Background()

	code, err := svc.SendPhoneCode(ctx, "+77012345678", PurposePhone)
	require.NoError(t, err)
	m.FastForward(CodeTTL + time.Second)
	require.Error(t, svc.CheckPhoneCode(ctx, "+77012345678", PurposePhone, code))
}

func TestEmailToken(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, _, mail := newService(t, st)
			ctx := context.Background()

			_, err := svc.SendEmailToken(ctx, "user-1", "")
			require.True(t, apperr.Is(err, apperr.KindValidation))

			token, err := svc.SendEmailToken(ctx, "user-1", "a@example.com")
			require.NoError(t, err)
			require.Len(t, token, 64)
			require.Equal(t, "a@example.com", mail.to)
			require.Contains(t, mail.text, "https://kolesa.kz/verify-email?token="+token)

			uid, err := svc.ConsumeEmailToken(ctx, token)
			require.NoError(t, err)
			require.Equal(t, "user-1", uid)

			_, err = svc.ConsumeEmailToken(ctx, token)
			require.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}
}

func TestLoginGuard(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, _, _ := newService(t, st)
			ctx := context.Background()

			for i := 0; i < MaxLoginFailures; i++ {
				require.NoError(t, svc.LoginAllowed(ctx, "1.2.3.4"))
				require.NoError(t, svc.RecordLoginFailure(ctx, "1.2.3.4"))
			}
			err := svc.LoginAllowed(ctx, "1.2.3.4")
			require.True(t, apperr.Is(err, apperr.KindRateLimit))
			require.NoError(t, svc.LoginAllowed(ctx, "5.6.7.8"))

			require.NoError(t, svc.ResetLoginFailures(ctx, "1.2.3.4"))
			require.NoError(t, svc.LoginAllowed(ctx, "1.2.3.4"))
		})
	}
}

func TestMemoryStoreWindowExpires(t *testing.T) {
	st := NewMemoryStore()
	now := time.Now()
	st.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = st.Incr(ctx, "k", time.Minute)
	_, _ = st.Incr(ctx, "k", time.Minute)
	n, _ := st.Count(ctx, "k")
	require.Equal(t, int64(2), n)

	now = now.Add(2 * time.Minute)
	n, _ = st.Count(ctx, "k")
	require.Equal(t, int64(0), n)
}

func TestCheckCodeConcurrentGuessesAreCounted(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.SaveCode(ctx, "code:+77012345678", "424242", time.Minute))

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				compared int
			)
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					guess := "000000"
					if i == 50 {
						guess = "424242"
					}
					res, err := st.CheckCode(ctx, "code:+77012345678", guess, MaxCodeAttempts)
					require.NoError(t, err)
					if res == CodeOK || res == CodeMismatch {
						mu.Lock()
						compared++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			require.LessOrEqual(t, compared, MaxCodeAttempts)

			res, err := st.CheckCode(ctx, "code:+77012345678", "424242", MaxCodeAttempts)
			require.NoError(t, err)
			require.NotEqual(t, CodeOK, res)
		})
	}
}
