package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsInnerKind(t *testing.T) {
	inner := Errorf(KindConversion, "wgrib2", "exit status 1")
	err := Wrap(KindAcquisition, "model branch", inner)

	assert.Equal(t, KindConversion, KindOf(err))
	assert.Contains(t, err.Error(), "model branch")
	assert.Contains(t, err.Error(), "conversion error")
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(KindMerge, "write", nil))
}

func TestConflictError(t *testing.T) {
	err := ConflictError("20240110_12m")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.False(t, IsRetriable(err))
	assert.Contains(t, err.Error(), "already in progress or already exists")
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Errorf(KindAcquisition, "get", "404"), true},
		{Errorf(KindConversion, "wgrib2", "bad"), true},
		{Errorf(KindNormalization, "rename", "bad"), true},
		{Errorf(KindDerivation, "thte", "bad"), true},
		{Errorf(KindMerge, "write", "disk full"), true},
		{Errorf(KindInvalidRequest, "parse", "bad"), false},
		{ConflictError("k"), false},
		{fmt.Errorf("wrapped: %w", ConflictError("k")), false},
		{context.Canceled, true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

func TestKindOf_Untagged(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", KindUnknown.String())
}
