package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/bms-ingest/internal/core"
	"github.com/target/bms-ingest/internal/domain/model"
	"github.com/target/bms-ingest/internal/mocks"
)

func TestStatusCacheService_GetJob(t *testing.T) {
	t.Parallel()

	completed := &model.Job{ID: "job-1", Status: model.JobStatusCompleted, FileName: "a.png"}
	processing := &model.Job{ID: "job-2", Status: model.JobStatusProcessing, FileName: "b.png"}
	completedRaw, err := json.Marshal(completed)
	require.NoError(t, err)
	withImage := &model.Job{
		ID:       "job-3",
		Status:   model.JobStatusFailed,
		FileName: "c.png",
		Payload:  json.RawMessage(`{"fileName":"c.png","data":"SECRETIMAGEBYTES"}`),
	}
	withoutImage := withImage.WithoutPayload()
	withoutImageRaw, err := json.Marshal(withoutImage)
	require.NoError(t, err)

	tests := []struct {
		name    string
		id      string
		setup   func(*mocks.MockCacheRepository, *mocks.MockJobRepository)
		want    *model.Job
		wantErr error
	}{
		{
			name: "cache hit skips the repository",
			id:   "job-1",
			setup: func(cache *mocks.MockCacheRepository, _ *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:job-1").Return(completedRaw, nil)
			},
			want: completed,
		},
		{
			name: "terminal job is cached on miss",
			id:   "job-1",
			setup: func(cache *mocks.MockCacheRepository, jobs *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:job-1").Return(nil, nil)
				jobs.EXPECT().GetByID(gomock.Any(), "job-1").Return(completed, nil)
				cache.EXPECT().Set(gomock.Any(), "job:status:job-1", completedRaw, 10*time.Minute).Return(nil)
			},
			want: completed,
		},
		{
			name: "terminal job is cached without its image payload",
			id:   "job-3",
			setup: func(cache *mocks.MockCacheRepository, jobs *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:job-3").Return(nil, nil)
				jobs.EXPECT().GetByID(gomock.Any(), "job-3").Return(withImage, nil)
				cache.EXPECT().Set(gomock.Any(), "job:status:job-3", withoutImageRaw, 10*time.Minute).Return(nil)
			},
			want: withoutImage,
		},
		{
			name: "non-terminal job is not cached",
			id:   "job-2",
			setup: func(cache *mocks.MockCacheRepository, jobs *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:job-2").Return(nil, nil)
				jobs.EXPECT().GetByID(gomock.Any(), "job-2").Return(processing, nil)
			},
			want: processing,
		},
		{
			name: "cache error falls through to the repository",
			id:   "job-2",
			setup: func(cache *mocks.MockCacheRepository, jobs *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:job-2").Return(nil, errors.New("redis down"))
				jobs.EXPECT().GetByID(gomock.Any(), "job-2").Return(processing, nil)
			},
			want: processing,
		},
		{
			name: "not found is returned as is",
			id:   "missing",
			setup: func(cache *mocks.MockCacheRepository, jobs *mocks.MockJobRepository) {
				cache.EXPECT().Get(gomock.Any(), "job:status:missing").Return(nil, nil)
				jobs.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, model.ErrJobNotFound)
			},
			wantErr: model.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			cache := mocks.NewMockCacheRepository(ctrl)
			jobs := mocks.NewMockJobRepository(ctrl)
			tt.setup(cache, jobs)

			svc := core.NewStatusCacheService(core.StatusCacheServiceOptions{Cache: cache, Jobs: jobs})
			got, err := svc.GetJob(context.Background(), tt.id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusCacheService_Kickoff(t *testing.T) {
	t.Parallel()

	t.Run("acquire and release use the kickoff key", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)
		cache := mocks.NewMockCacheRepository(ctrl)
		gomock.InOrder(
			cache.EXPECT().SetIfNotExists(gomock.Any(), "job:kickoff:job-1", []byte("1"), 45*time.Second).Return(true, nil),
			cache.EXPECT().SetIfNotExists(gomock.Any(), "job:kickoff:job-1", []byte("1"), 45*time.Second).Return(false, nil),
			cache.EXPECT().Delete(gomock.Any(), "job:kickoff:job-1").Return(true, nil),
		)

		svc := core.NewStatusCacheService(core.StatusCacheServiceOptions{
			Cache:  cache,
			Config: core.StatusCacheConfig{KickoffTTL: 45 * time.Second},
		})
		ctx := context.Background()

		ok, err := svc.AcquireKickoff(ctx, "job-1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.AcquireKickoff(ctx, "job-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, svc.ReleaseKickoff(ctx, "job-1"))
	})

	t.Run("without a cache every kickoff is allowed", func(t *testing.T) {
		t.Parallel()
		svc := core.NewStatusCacheService(core.StatusCacheServiceOptions{})
		ok, err := svc.AcquireKickoff(context.Background(), "job-1")
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, svc.ReleaseKickoff(context.Background(), "job-1"))
		require.NoError(t, svc.InvalidateJob(context.Background(), "job-1"))
	})
}

func TestStatusCacheService_InvalidateJob(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockCacheRepository(ctrl)
	cache.EXPECT().Delete(gomock.Any(), "job:status:job-1").Return(false, nil)

	svc := core.NewStatusCacheService(core.StatusCacheServiceOptions{Cache: cache})
	require.NoError(t, svc.InvalidateJob(context.Background(), "job-1"))
	require.NoError(t, svc.InvalidateJob(context.Background(), ""))
}

func TestDefaultStatusCacheConfig(t *testing.T) {
	t.Parallel()
	cfg := core.DefaultStatusCacheConfig()
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, 30*time.Second, cfg.KickoffTTL)
}
