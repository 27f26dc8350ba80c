package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/mocks"
	"github.com/target/bms-ingest/internal/retry"
)

func kinds(cs []Classification) []model.DuplicateKind {
	out := make([]model.DuplicateKind, len(cs))
	for i, c := range cs {
		out[i] = c.Result.Kind
	}
	return out
}

func TestDetector_ClassifyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("in-batch duplicate by basename", func(t *testing.T) {
		history := mocks.NewMockAnalysisRecordRepository(gomock.NewController(t))
		history.EXPECT().
			FindByBasenames(gomock.Any(), []string{"screen.png", "other.png"}).
			Return(map[string]string{}, nil).
			Times(1)
		d := NewDetector(Options{History: history})

		got, err := d.ClassifyBatch(ctx, []Item{
			{FileName: "a/screen.png"},
			{FileName: `b\SCREEN.png`},
			{FileName: "other.png"},
		})
		require.NoError(t, err)
		assert.Equal(t, []model.DuplicateKind{model.DuplicateNone, model.DuplicateInBatch, model.DuplicateNone}, kinds(got))
	})

	t.Run("history match without force", func(t *testing.T) {
		history := mocks.NewMockAnalysisRecordRepository(gomock.NewController(t))
		history.EXPECT().FindByBasenames(gomock.Any(), gomock.Any()).Return(map[string]string{"old.png": "rec-1"}, nil)
		d := NewDetector(Options{History: history})

		got, err := d.ClassifyBatch(ctx, []Item{{FileName: "Old.png"}, {FileName: "new.png"}})
		require.NoError(t, err)
		assert.Equal(t, model.DuplicateInHistory, got[0].Result.Kind)
		assert.Equal(t, "rec-1", got[0].Result.MatchID)
		assert.Equal(t, model.DuplicateNone, got[1].Result.Kind)
	})

	t.Run("force bypasses history but not the batch", func(t *testing.T) {
		history := mocks.NewMockAnalysisRecordRepository(gomock.NewController(t))
		history.EXPECT().FindByBasenames(gomock.Any(), gomock.Any()).Return(map[string]string{"old.png": "rec-1"}, nil)
		d := NewDetector(Options{History: history})

		got, err := d.ClassifyBatch(ctx, []Item{{FileName: "old.png", Force: true}, {FileName: "old.png", Force: true}})
		require.NoError(t, err)
		assert.Equal(t, []model.DuplicateKind{model.DuplicateNone, model.DuplicateInBatch}, kinds(got))
	})

	t.Run("history error propagates", func(t *testing.T) {
		history := mocks.NewMockAnalysisRecordRepository(gomock.NewController(t))
		history.EXPECT().FindByBasenames(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down")).Times(1)
		d := NewDetector(Options{
			History: history,
			Retry:   retry.Policy{MaxRetries: -1},
		})

		_, err := d.ClassifyBatch(ctx, []Item{{FileName: "a.png"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query history")
	})

	t.Run("no history repository", func(t *testing.T) {
		d := NewDetector(Options{})
		got, err := d.ClassifyBatch(ctx, []Item{{FileName: "a.png"}, {FileName: "A.PNG"}})
		require.NoError(t, err)
		assert.Equal(t, []model.DuplicateKind{model.DuplicateNone, model.DuplicateInBatch}, kinds(got))
	})
}

func TestDetector_CheckContent(t *testing.T) {
	ctx := context.Background()
	existing := &model.Feedback{ID: "fb-1", SystemID: "sys-1", Content: "Cell 4 voltage drifts high after charging"}
	hash := ContentHash(existing.Content)

	t.Run("exact match", func(t *testing.T) {
		fb := mocks.NewMockFeedbackRepository(gomock.NewController(t))
		fb.EXPECT().FindByHash(gomock.Any(), "sys-1", hash).Return(existing, nil)
		d := NewDetector(Options{Feedback: fb})

		res, err := d.CheckContent(ctx, "sys-1", "cell 4 VOLTAGE drifts high after charging!")
		require.NoError(t, err)
		assert.Equal(t, model.DuplicateExact, res.Kind)
		assert.Equal(t, "fb-1", res.MatchID)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("exact match is scoped to the system", func(t *testing.T) {
		fb := mocks.NewMockFeedbackRepository(gomock.NewController(t))
		fb.EXPECT().FindByHash(gomock.Any(), "sys-2", hash).Return(nil, nil)
		d := NewDetector(Options{Feedback: fb})

		res, err := d.CheckContent(ctx, "sys-2", existing.Content)
		require.NoError(t, err)
		assert.Equal(t, model.DuplicateNone, res.Kind)
		assert.Equal(t, hash, res.Hash)
	})

	t.Run("semantic match above threshold", func(t *testing.T) {
		fb := mocks.NewMockFeedbackRepository(gomock.NewController(t))
		fb.EXPECT().FindByHash(gomock.Any(), "sys-1", gomock.Any()).Return(nil, nil)
		fb.EXPECT().ListRecent(gomock.Any(), "sys-1", gomock.Any()).Return([]*model.Feedback{
			{ID: "fb-0", Content: "inverter fault code 17"},
			existing,
		}, nil)
		d := NewDetector(Options{Feedback: fb, SemanticEnabled: true, SimilarityThreshold: 0.5})

		res, err := d.CheckContent(ctx, "sys-1", "cell 4 voltage drifts high after charging overnight")
		require.NoError(t, err)
		assert.Equal(t, model.DuplicateSemantic, res.Kind)
		assert.Equal(t, "fb-1", res.MatchID)
		assert.GreaterOrEqual(t, res.Score, 0.5)
		assert.NotEmpty(t, res.Hash)
	})

	t.Run("semantic disabled", func(t *testing.T) {
		fb := mocks.NewMockFeedbackRepository(gomock.NewController(t))
		fb.EXPECT().FindByHash(gomock.Any(), "sys-1", gomock.Any()).Return(nil, nil)
		d := NewDetector(Options{Feedback: fb})

		res, err := d.CheckContent(ctx, "sys-1", "cell 4 voltage drifts high after charging overnight")
		require.NoError(t, err)
		assert.Equal(t, model.DuplicateNone, res.Kind)
	})

	t.Run("below threshold", func(t *testing.T) {
		fb := mocks.NewMockFeedbackRepository(gomock.NewController(t))
		fb.EXPECT().FindByHash(gomock.Any(), "sys-1", gomock.Any()).Return(nil, nil)
		fb.EXPECT().ListRecent(gomock.Any(), "sys-1", gomock.Any()).Return([]*model.Feedback{existing}, nil)
		d := NewDetector(Options{Feedback: fb, SemanticEnabled: true})

		res, err := d.CheckContent(ctx, "sys-1", "inverter trips when grid frequency dips")
		require.NoError(t, err)
		assert.False(t, res.Kind.IsDuplicate())
	})
}
