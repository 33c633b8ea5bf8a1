package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coop-ledger/coopledger/internal/audit"
	"github.com/coop-ledger/coopledger/internal/notify"
	"github.com/coop-ledger/coopledger/internal/rbac"
	"github.com/coop-ledger/coopledger/internal/shared"
)

type allowAll struct{}

func (allowAll) Require(context.Context, int64, ...rbac.Permission) error { return nil }

type denyAll struct{}

func (denyAll) Require(_ context.Context, _ int64, perms ...rbac.Permission) error {
	return &shared.PermissionError{Permission: string(perms[0]), Sufficient: []string{"admin", "treasurer"}}
}

type memStore struct {
	members       map[int64]string
	contributions []Contribution
	audits        []audit.Entry
	auditErr      error
	readErr       error
	nextID        int64
}

func newMemStore() *memStore {
	return &memStore{members: map[int64]string{}}
}

func (m *memStore) add(memberID int64, amount string, date time.Time, status Status) {
	m.nextID++
	m.contributions = append(m.contributions, Contribution{
		ID: m.nextID, MemberID: memberID, Amount: decimal.RequireFromString(amount), Date: date, Status: status,
	})
}

func (m *memStore) ConfirmedAmounts(ctx context.Context, memberID int64) ([]decimal.Decimal, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []decimal.Decimal
	for _, c := range m.contributions {
		if c.MemberID == memberID && c.Status == StatusConfirmed {
			out = append(out, c.Amount)
		}
	}
	return out, nil
}

func (m *memStore) ConfirmedInPeriod(ctx context.Context, start, end time.Time) ([]MemberAmount, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	var out []MemberAmount
	for _, c := range m.contributions {
		if c.Status == StatusConfirmed && !c.Date.Before(start) && !c.Date.After(end) {
			out = append(out, MemberAmount{MemberID: c.MemberID, Amount: c.Amount})
		}
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, id int64) (Contribution, error) {
	for _, c := range m.contributions {
		if c.ID == id {
			return c, nil
		}
	}
	return Contribution{}, shared.NotFound("contribution", id)
}

func (m *memStore) List(ctx context.Context, f ListFilters, limit, offset int) ([]Contribution, error) {
	var out []Contribution
	for _, c := range m.contributions {
		if (f.MemberID == 0 || c.MemberID == f.MemberID) && (f.Status == "" || c.Status == f.Status) {
			out = append(out, c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := append([]Contribution(nil), m.contributions...)
	savedAudits := len(m.audits)
	savedID := m.nextID
	if err := fn(ctx, &memTx{m}); err != nil {
		m.contributions, m.audits, m.nextID = saved, m.audits[:savedAudits], savedID
		return err
	}
	return nil
}

type memTx struct{ m *memStore }

func (t *memTx) RecordAudit(ctx context.Context, e audit.Entry) error {
	if t.m.auditErr != nil {
		return t.m.auditErr
	}
	t.m.audits = append(t.m.audits, e)
	return nil
}

func (t *memTx) MemberStatus(ctx context.Context, memberID int64) (string, error) {
	status, ok := t.m.members[memberID]
	if !ok {
		return "", shared.NotFound("member", memberID)
	}
	return status, nil
}

func (t *memTx) Insert(ctx context.Context, c Contribution) (Contribution, error) {
	t.m.nextID++
	c.ID = t.m.nextID
	t.m.contributions = append(t.m.contributions, c)
	return c, nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id int64) (Contribution, error) {
	return t.m.Get(ctx, id)
}

func (t *memTx) UpdateStatus(ctx context.Context, id int64, status Status) error {
	for i := range t.m.contributions {
		if t.m.contributions[i].ID == id {
			t.m.contributions[i].Status = status
			return nil
		}
	}
	return shared.NotFound("contribution", id)
}

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestTotalConfirmedCountsOnlyConfirmed(t *testing.T) {
	store := newMemStore()
	store.add(1, "100.50", day(2024, 1, 5), StatusConfirmed)
	store.add(1, "200", day(2024, 2, 5), StatusPending)
	store.add(1, "300", day(2024, 2, 6), StatusFailed)
	store.add(1, "49.50", day(2024, 3, 5), StatusConfirmed)
	store.add(2, "999", day(2024, 3, 5), StatusConfirmed)
	agg := NewAggregator(store)

	total, err := agg.TotalConfirmedContributions(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(150)), total.String())

	total, err = agg.TotalConfirmedContributions(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestTotalConfirmedByPeriodIsInclusive(t *testing.T) {
	store := newMemStore()
	store.add(1, "10", day(2024, 1, 1), StatusConfirmed)
	store.add(1, "20", day(2024, 3, 31), StatusConfirmed)
	store.add(1, "40", day(2024, 4, 1), StatusConfirmed)
	store.add(2, "5", day(2023, 12, 31), StatusConfirmed)
	store.add(3, "7", day(2024, 2, 1), StatusPending)
	agg := NewAggregator(store)

	totals, err := agg.TotalConfirmedByPeriod(context.Background(), day(2024, 1, 1), time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	require.True(t, totals[1].Equal(decimal.NewFromInt(30)))

	_, err = agg.TotalConfirmedByPeriod(context.Background(), day(2024, 2, 1), day(2024, 1, 1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAggregatorSurfacesReadFailure(t *testing.T) {
	store := newMemStore()
	store.readErr = shared.StoreError("ledger: confirmed amounts", errors.New("conn reset"))
	_, err := NewAggregator(store).TotalConfirmedContributions(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrStoreFailure)
}

func TestRecordAndConfirmContribution(t *testing.T) {
	store := newMemStore()
	store.members[1] = "active"
	notifier := &recordingNotifier{}
	svc := NewService(store, allowAll{}, notifier, nil)
	ctx := context.Background()

	c, err := svc.RecordContribution(ctx, 9, RecordInput{MemberID: 1, Amount: decimal.RequireFromString("250.00"), Date: day(2024, 5, 1), PaymentMethod: "cash"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, c.Status)

	total, err := svc.TotalConfirmedContributions(ctx, 1)
	require.NoError(t, err)
	require.True(t, total.IsZero())

	c, err = svc.ConfirmContribution(ctx, 9, c.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, c.Status)
	require.Len(t, notifier.events, 1)
	require.Equal(t, notify.KindContributionAdded, notifier.events[0].Kind)

	total, err = svc.TotalConfirmedContributions(ctx, 1)
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.NewFromInt(250)))

	require.Len(t, store.audits, 2)
	require.Equal(t, "contribution.record", store.audits[0].Action)
	require.Equal(t, "contribution.confirm", store.audits[1].Action)
	require.JSONEq(t, `{"id":1,"member_id":1,"amount":"250.00","contribution_date":"2024-05-01","payment_method":"cash","status":"pending"}`, string(store.audits[1].Before))

	_, err = svc.FailContribution(ctx, 9, c.ID, "bounced")
	require.ErrorIs(t, err, shared.ErrNotPending)
}

func TestRecordContributionValidation(t *testing.T) {
	store := newMemStore()
	store.members[1] = "active"
	store.members[2] = "suspended"
	svc := NewService(store, allowAll{}, nil, nil)
	ctx := context.Background()
	valid := RecordInput{MemberID: 1, Amount: decimal.NewFromInt(10), Date: day(2024, 1, 1), PaymentMethod: "bank"}

	bad := valid
	bad.Amount = decimal.Zero
	_, err := svc.RecordContribution(ctx, 9, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = valid
	bad.Amount = decimal.RequireFromString("1.001")
	_, err = svc.RecordContribution(ctx, 9, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = valid
	bad.PaymentMethod = "  "
	_, err = svc.RecordContribution(ctx, 9, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = valid
	bad.MemberID = 2
	_, err = svc.RecordContribution(ctx, 9, bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	bad = valid
	bad.MemberID = 3
	_, err = svc.RecordContribution(ctx, 9, bad)
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, store.contributions)
	require.Empty(t, store.audits)
}

func TestRecordContributionRequiresFinancePermission(t *testing.T) {
	store := newMemStore()
	store.members[1] = "active"
	svc := NewService(store, denyAll{}, nil, nil)
	_, err := svc.RecordContribution(context.Background(), 9, RecordInput{MemberID: 1, Amount: decimal.NewFromInt(10), Date: day(2024, 1, 1), PaymentMethod: "bank"})
	require.ErrorIs(t, err, shared.ErrPermissionDenied)
	require.Empty(t, store.contributions)
}

func TestAuditFailureRollsBackConfirmation(t *testing.T) {
	store := newMemStore()
	store.add(1, "10", day(2024, 1, 1), StatusPending)
	store.auditErr = shared.StoreError("audit: insert entry", errors.New("disk full"))
	svc := NewService(store, allowAll{}, nil, nil)

	_, err := svc.ConfirmContribution(context.Background(), 9, 1)
	require.ErrorIs(t, err, shared.ErrStoreFailure)
	require.Equal(t, StatusPending, store.contributions[0].Status)
}

func TestNotifyFailureDoesNotFailConfirmation(t *testing.T) {
	store := newMemStore()
	store.add(1, "10", day(2024, 1, 1), StatusPending)
	svc := NewService(store, allowAll{}, &recordingNotifier{err: errors.New("queue down")}, nil)

	c, err := svc.ConfirmContribution(context.Background(), 9, 1)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, c.Status)
}

func TestListContributionsPaging(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 3; i++ {
		store.add(1, "10", day(2024, 1, i+1), StatusConfirmed)
	}
	svc := NewService(store, allowAll{}, nil, nil)

	result, err := svc.ListContributions(context.Background(), 9, ListFilters{MemberID: 1, Page: shared.Page{Page: 1, PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, result.Contributions, 2)
	require.True(t, result.Paging.HasNext)

	_, err = svc.ListContributions(context.Background(), 9, ListFilters{Status: "weird"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
