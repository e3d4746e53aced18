package network

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

func TestWrapStage(t *testing.T) {
	assert.Nil(t, WrapStage(StageSync, nil))

	err := WrapStage(StageSync, merr.WrapErrServiceUnavailable("502"))
	stage, ok := StageOf(errors.Wrap(err, "session 1"))
	assert.True(t, ok)
	assert.Equal(t, StageSync, stage)
	assert.ErrorIs(t, err, merr.ErrServiceUnavailable)
	assert.Contains(t, err.Error(), ErrCodeSyncFailed)

	_, ok = StageOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestStageCode(t *testing.T) {
	assert.Equal(t, ErrCodeAuthFailed, StageAuth.Code())
	assert.Equal(t, ErrCodeDirectoryFailed, StageDirectory.Code())
	assert.Equal(t, "network:custom_failed", Stage("custom").Code())
}
