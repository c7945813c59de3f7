package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhqd/shopchat/internal/callback"
	"github.com/minhqd/shopchat/internal/catalog"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/minhqd/shopchat/internal/vectorindex"
)

type staticParser struct {
	items []ExtractedItem
	err   error
}

func (p staticParser) ExtractItems(ctx context.Context, text string) ([]ExtractedItem, error) {
	return p.items, p.err
}

type staticSource struct {
	text string
	err  error
}

func (s staticSource) Extract(data []byte, fileType string) (string, error) {
	return s.text, s.err
}

type embedOK struct{}

func (embedOK) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newTestService(parser ItemParser) (*Service, *MemJobStore, *catalog.MemStore, *callback.MemStore) {
	jobs := NewMemJobStore()
	itemStore := catalog.NewMemStore()
	registry := catalog.NewRegistry(itemStore, vectorindex.NewMemoryIndex(), embedOK{})
	cbStore := callback.NewMemStore()
	dispatcher := callback.NewDispatcher(cbStore, "http://unused.invalid", "secret",
		callback.DefaultBackoffPolicy(), 100, 0)

	svc := NewService(jobs, parser, registry, dispatcher)
	svc.source = staticSource{text: "menu text"}
	return svc, jobs, itemStore, cbStore
}

func submitJob(t *testing.T, svc *Service, tenantID uuid.UUID) *models.ExtractionJob {
	t.Helper()
	job, err := svc.Submit(context.Background(), tenantID, "menu.txt", "txt", []byte("menu text"))
	require.NoError(t, err)
	require.Equal(t, models.ExtractionPending, job.Status)
	return job
}

func TestSubmitValidatesInput(t *testing.T) {
	svc, _, _, _ := newTestService(staticParser{})
	ctx := context.Background()
	tenantID := uuid.New()

	_, err := svc.Submit(ctx, tenantID, "menu.txt", "txt", nil)
	require.Error(t, err)
	_, err = svc.Submit(ctx, tenantID, "menu.xlsx", "xlsx", []byte("x"))
	require.Error(t, err)
}

func TestProcessRegistersItemsAndNotifies(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	svc, jobs, itemStore, cbStore := newTestService(staticParser{items: []ExtractedItem{
		{Kind: models.KindProduct, Name: "Phở Bò", Category: "Món chính", Price: "45.000", Currency: "VND"},
		{Kind: models.KindService, Name: "Giao hàng"},
		{Kind: models.KindProduct, Name: "Bún Chả", Price: "not-a-price"}, // skipped
	}})

	job := submitJob(t, svc, tenantID)
	require.NoError(t, svc.Process(ctx, job.ID))

	done, err := jobs.GetJob(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionCompleted, done.Status)
	assert.Equal(t, 2, done.ItemCount)

	pho, err := itemStore.GetByFingerprint(ctx, tenantID,
		catalog.Fingerprint(tenantID, models.KindProduct, "Phở Bò", "Món chính"))
	require.NoError(t, err)
	require.NotNil(t, pho.Price)
	assert.Equal(t, "45000", pho.Price.String())

	env, err := cbStore.GetByTaskID(ctx, "extraction:"+job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, callback.KindExtractionCompleted, env.Kind)
	assert.Equal(t, models.EnvelopePending, env.Status)
}

func TestProcessParserFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	svc, jobs, _, cbStore := newTestService(staticParser{err: errors.New("model refused")})
	job := submitJob(t, svc, tenantID)

	// Terminal failure is recorded, not returned: the queue must not retry.
	require.NoError(t, svc.Process(ctx, job.ID))

	failed, err := jobs.GetJob(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionFailed, failed.Status)
	assert.Contains(t, failed.Error, "model refused")

	env, err := cbStore.GetByTaskID(ctx, "extraction:"+job.ID.String())
	require.NoError(t, err)
	assert.Equal(t, callback.KindExtractionCompleted, env.Kind)
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	svc, jobs, itemStore, cbStore := newTestService(staticParser{items: []ExtractedItem{
		{Kind: models.KindProduct, Name: "Phở Bò"},
	}})
	job := submitJob(t, svc, tenantID)

	require.NoError(t, svc.Process(ctx, job.ID))
	require.NoError(t, svc.Process(ctx, job.ID)) // redelivered task

	done, err := jobs.GetJob(ctx, tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExtractionCompleted, done.Status)

	// Still one item and one callback envelope.
	_, err = itemStore.GetByFingerprint(ctx, tenantID,
		catalog.Fingerprint(tenantID, models.KindProduct, "Phở Bò", ""))
	require.NoError(t, err)

	envs, err := cbStore.ClaimDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestProcessUnknownJob(t *testing.T) {
	svc, _, _, _ := newTestService(staticParser{})
	err := svc.Process(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}
