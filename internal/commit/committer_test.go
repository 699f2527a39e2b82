package commit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/product-scraper/internal/crawler"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) InsertRecord(ctx context.Context, record crawler.Record) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockStore) RetireItem(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *mockStore) AppendError(ctx context.Context, rec crawler.ErrorRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type recordingNotifier struct {
	records []crawler.Record
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, record crawler.Record) error {
	n.records = append(n.records, record)
	return n.err
}

const itemURL = "https://shop.example.cl/producto/p"

func usableResult() crawler.AttemptResult {
	name := "Cemento 25kg"
	return crawler.AttemptResult{
		Kind:     crawler.ResultSuccess,
		Record:   crawler.Record{ProductName: &name, SourceURL: itemURL},
		Attempts: 1,
	}
}

func byStage(stage string) any {
	return mock.MatchedBy(func(rec crawler.ErrorRecord) bool {
		return rec.Stage == stage && rec.URL == itemURL
	})
}

func TestCommitInsertsThenRetires(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	insert := store.On("InsertRecord", mock.Anything, mock.MatchedBy(func(r crawler.Record) bool {
		return r.ItemURL == itemURL
	})).Return(nil).Once()
	retire := store.On("RetireItem", mock.Anything, itemURL).Return(nil).Once()
	mock.InOrder(insert, retire)

	notifier := &recordingNotifier{}
	c := New(store, store, WithNotifier(notifier))
	status := c.Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, usableResult())

	require.Equal(t, StatusCommitted, status)
	require.True(t, status.Succeeded())
	require.Len(t, notifier.records, 1)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "AppendError", mock.Anything, mock.Anything)
}

func TestCommitInsertFailureNeverRetires(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("InsertRecord", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()
	store.On("AppendError", mock.Anything, byStage(StageInsert)).Return(nil).Once()

	c := New(store, store)
	status := c.Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, usableResult())

	require.Equal(t, StatusInsertFailed, status)
	require.False(t, status.Succeeded())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "RetireItem", mock.Anything, mock.Anything)
}

func TestCommitRetireFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("InsertRecord", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("RetireItem", mock.Anything, itemURL).Return(errors.New("deadlock")).Once()
	store.On("AppendError", mock.Anything, byStage(StageRetire)).Return(nil).Once()

	status := New(store, store).Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, usableResult())

	require.Equal(t, StatusRetireFailed, status)
	require.True(t, status.Succeeded())
	store.AssertExpectations(t)
}

func TestCommitUnusableRecordLeavesItemPending(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("AppendError", mock.Anything, mock.MatchedBy(func(rec crawler.ErrorRecord) bool {
		return rec.Message == crawler.ErrUnusable.Error()
	})).Return(nil).Once()

	result := crawler.AttemptResult{Kind: crawler.ResultSuccess, Record: crawler.Record{SourceURL: itemURL}, Attempts: 3}
	status := New(store, store).Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, result)

	require.Equal(t, StatusUnusable, status)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "InsertRecord", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "RetireItem", mock.Anything, mock.Anything)
}

func TestCommitFailureAppendsError(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	store := &mockStore{}
	store.On("AppendError", mock.Anything, mock.MatchedBy(func(rec crawler.ErrorRecord) bool {
		return rec.RunID == runID && rec.Attempts == 3 && rec.Stage == StageExtract
	})).Return(nil).Once()

	result := crawler.AttemptResult{
		Kind:     crawler.ResultTransient,
		Err:      crawler.Transient(errors.New("navigation timeout")),
		Attempts: 3,
	}
	status := New(store, store).Commit(context.Background(), runID, crawler.WorkItem{URL: itemURL}, result)

	require.Equal(t, StatusFailed, status)
	store.AssertExpectations(t)
}

func TestCommitSwallowsErrorLogFailures(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("InsertRecord", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
	store.On("AppendError", mock.Anything, mock.Anything).Return(errors.New("log table missing")).Once()

	require.NotPanics(t, func() {
		status := New(store, store).Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, usableResult())
		require.Equal(t, StatusInsertFailed, status)
	})
	store.AssertExpectations(t)
}

func TestCommitNotifierFailureDoesNotChangeStatus(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("InsertRecord", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("RetireItem", mock.Anything, itemURL).Return(nil).Once()

	c := New(store, nil, WithNotifier(&recordingNotifier{err: errors.New("topic gone")}))
	status := c.Commit(context.Background(), uuid.New(), crawler.WorkItem{URL: itemURL}, usableResult())
	require.Equal(t, StatusCommitted, status)
}
