package support

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/stretchr/testify/require"
)

type sent struct {
	userID, code string
	vars         map[string]string
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{userID, code, vars})
}

func (r *recorder) codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, s := range r.sent {
		out = append(out, s.code)
	}
	return out
}

type fixture struct {
	svc   *Service
	users *users.Service
	rec   *recorder
	clock time.Time
	user  *models.User
	staff *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	content, err := NewMemoryContent()
	require.NoError(t, err)
	f := &fixture{users: users.NewMemoryService(), rec: &recorder{}, clock: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	ctx := context.Background()
	f.user, err = f.users.Register(ctx, users.RegisterInput{Phone: "+77011112233", Password: "secret123", FirstName: "Ерлан"})
	require.NoError(t, err)
	f.staff, err = f.users.Register(ctx, users.RegisterInput{Phone: "+77019998877", Password: "secret123", FirstName: "Оператор"})
	require.NoError(t, err)
	require.NoError(t, f.users.PromoteToAdmin(ctx, f.staff.ID))
	f.svc = NewService(NewMemoryTickets(), NewMemoryResponses(), content, f.users, f.rec)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) ticket(t *testing.T, priority string) *Ticket {
	t.Helper()
	tk, err := f.svc.Create(context.Background(), f.user.ID, CreateInput{
		CategoryID: "payments", Priority: priority,
		Subject: "Не прошла оплата", Description: "Деньги списались, а продвижение не включилось",
	})
	require.NoError(t, err)
	return tk
}

func TestCreateTicket(t *testing.T) {
	f := newFixture(t)
	tk := f.ticket(t, "")
	require.Regexp(t, regexp.MustCompile(`^T260314\d{4}$`), tk.Number)
	require.Equal(t, StatusOpen, tk.Status)
	require.Equal(t, PriorityMedium, tk.Priority)
	require.Len(t, f.rec.sent, 1)
	require.Equal(t, f.staff.ID, f.rec.sent[0].userID)
	require.Equal(t, "new_support_ticket", f.rec.sent[0].code)
	require.Equal(t, tk.Number, f.rec.sent[0].vars["ticket_number"])

	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.user.ID, CreateInput{Subject: "Hi", Description: "long enough text"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Create(ctx, f.user.ID, CreateInput{Subject: "Вопрос", Description: "коротко"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Create(ctx, f.user.ID, CreateInput{CategoryID: "cars", Subject: "Вопрос по сайту", Description: "Где найти мои объявления?"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Create(ctx, f.user.ID, CreateInput{Priority: "urgent", Subject: "Вопрос по сайту", Description: "Где найти мои объявления?"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestTicketVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, PriorityHigh)

	_, err := f.svc.Get(ctx, tk.ID, "someone-else", false)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	got, err := f.svc.Get(ctx, tk.ID, f.staff.ID, true)
	require.NoError(t, err)
	require.Equal(t, tk.Number, got.Number)

	items, total, err := f.svc.List(ctx, f.user.ID, "", "", 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, tk.ID, items[0].ID)
	_, total, err = f.svc.List(ctx, f.user.ID, StatusClosed, "", 0, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestConversationMovesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, PriorityMedium)
	f.rec.sent = nil

	f.clock = f.clock.Add(2 * time.Hour)
	note, err := f.svc.Respond(ctx, tk.ID, f.staff.ID, true, RespondInput{Message: "проверить платеж в Kaspi", IsInternal: true})
	require.NoError(t, err)
	require.True(t, note.IsInternal)
	got, err := f.svc.Get(ctx, tk.ID, f.user.ID, false)
	require.NoError(t, err)
	require.Empty(t, got.Responses, "internal notes are hidden from the user")
	require.Equal(t, StatusOpen, got.Status)
	require.Nil(t, got.FirstResponseAt)

	_, err = f.svc.Respond(ctx, tk.ID, f.staff.ID, true, RespondInput{Message: "Пришлите номер транзакции"})
	require.NoError(t, err)
	got, err = f.svc.Get(ctx, tk.ID, f.user.ID, false)
	require.NoError(t, err)
	require.Equal(t, StatusWaitingUser, got.Status)
	require.Equal(t, f.clock, *got.FirstResponseAt)
	require.Len(t, got.Responses, 1)
	require.True(t, got.Responses[0].IsStaff)
	require.Equal(t, []string{"support_reply"}, f.rec.codes())

	// users cannot write internal notes
	r, err := f.svc.Respond(ctx, tk.ID, f.user.ID, false, RespondInput{Message: "Номер 12345", IsInternal: true})
	require.NoError(t, err)
	require.False(t, r.IsInternal)
	got, err = f.svc.Get(ctx, tk.ID, f.staff.ID, true)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	require.Len(t, got.Responses, 3)

	_, err = f.svc.Respond(ctx, tk.ID, f.user.ID, false, RespondInput{Message: "   "})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Respond(ctx, tk.ID, "stranger", false, RespondInput{Message: "hello"})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCloseTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, PriorityLow)

	bad := 6
	_, err := f.svc.Close(ctx, tk.ID, f.user.ID, &bad)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Close(ctx, tk.ID, f.staff.ID, nil)
	require.True(t, apperr.Is(err, apperr.KindNotFound), "only the owner closes")

	five := 5
	closed, err := f.svc.Close(ctx, tk.ID, f.user.ID, &five)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, closed.Status)
	require.Equal(t, 5, *closed.Satisfaction)
	require.NotNil(t, closed.ClosedAt)

	_, err = f.svc.Close(ctx, tk.ID, f.user.ID, nil)
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))
	_, err = f.svc.Respond(ctx, tk.ID, f.user.ID, false, RespondInput{Message: "ещё вопрос"})
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))
}

func TestUserReplyReopensResolvedTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, PriorityMedium)
	resolved := StatusResolved
	_, err := f.svc.Update(ctx, tk.ID, UpdateInput{Status: &resolved})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, tk.ID, f.user.ID, false, RespondInput{Message: "Проблема повторилась"})
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, tk.ID, f.user.ID, false)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, got.Status)
	require.Nil(t, got.ResolvedAt)
}

func TestAdminQueueAndAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	low := f.ticket(t, PriorityLow)
	f.clock = f.clock.Add(time.Minute)
	crit := f.ticket(t, PriorityCritical)
	f.clock = f.clock.Add(time.Minute)
	med := f.ticket(t, PriorityMedium)

	items, total, err := f.svc.AdminTickets(ctx, TicketFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, []string{crit.ID, med.ID, low.ID}, []string{items[0].ID, items[1].ID, items[2].ID})

	_, err = f.svc.Assign(ctx, crit.ID, f.user.ID)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Assign(ctx, crit.ID, "ghost")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	f.clock = f.clock.Add(30 * time.Minute)
	got, err := f.svc.Assign(ctx, crit.ID, f.staff.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, got.Status)
	require.Equal(t, f.staff.ID, got.AssignedTo)

	mine, _, err := f.svc.AdminTickets(ctx, TicketFilter{AssignedTo: f.staff.ID})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	high := PriorityHigh
	got, err = f.svc.Update(ctx, low.ID, UpdateInput{Priority: &high})
	require.NoError(t, err)
	require.Equal(t, 3, got.PriorityLevel)
	weird := "snoozed"
	_, err = f.svc.Update(ctx, low.ID, UpdateInput{Status: &weird})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.ticket(t, PriorityHigh)
	b := f.ticket(t, PriorityHigh)
	f.ticket(t, PriorityLow)

	f.clock = f.clock.Add(time.Hour)
	_, err := f.svc.Respond(ctx, a.ID, f.staff.ID, true, RespondInput{Message: "Разбираемся"})
	require.NoError(t, err)
	f.clock = f.clock.Add(3 * time.Hour)
	four, two := 4, 2
	_, err = f.svc.Close(ctx, a.ID, f.user.ID, &four)
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, b.ID, f.user.ID, &two)
	require.NoError(t, err)

	st, err := f.svc.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Total)
	require.Equal(t, int64(1), st.Open)
	require.Equal(t, int64(2), st.Closed)
	require.Equal(t, int64(2), st.ByPriority[PriorityHigh])
	require.Equal(t, int64(3), st.ByCategory["payments"])
	require.Equal(t, 1.0, st.AvgResponseHours)
	require.Equal(t, 4.0, st.AvgResolutionHours)
	require.Equal(t, 3.0, st.AvgSatisfaction)

	open, err := f.svc.OpenTickets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), open)
}

func TestFAQ(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	all, err := f.svc.FAQ(ctx, "", "")
	require.NoError(t, err)
	require.NotEmpty(t, all)

	pay, err := f.svc.FAQ(ctx, "payments", "")
	require.NoError(t, err)
	for _, e := range pay {
		require.Equal(t, "payments", e.CategoryID)
	}
	hits, err := f.svc.FAQ(ctx, "", "ОПЛАТ")
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Less(t, len(hits), len(all))

	e, err := f.svc.ViewFAQ(ctx, "faq-create-listing")
	require.NoError(t, err)
	require.Equal(t, int64(1), e.ViewCount)
	_, err = f.svc.ViewFAQ(ctx, "nope")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	cats, err := f.svc.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, "account", cats[0].ID)
}

func TestOwnsTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.ticket(t, PriorityLow)
	ok, err := f.svc.OwnsTicket(ctx, tk.ID, f.user.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.svc.OwnsTicket(ctx, tk.ID, f.staff.ID)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = f.svc.OwnsTicket(ctx, "missing", f.user.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	exists, err := f.svc.TicketExists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, exists)
}
