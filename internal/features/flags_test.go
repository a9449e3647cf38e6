package features

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlagManager_Defaults(t *testing.T) {
	fm := NewFlagManager()

	for _, def := range DefaultFlags {
		assert.Equal(t, def.DefaultValue, fm.IsEnabled(def.Name), def.Name)
	}
	assert.False(t, fm.IsEnabled("nonexistent"))
	assert.Empty(t, fm.Disabled())
}

func TestNilManagerUsesDefaults(t *testing.T) {
	var fm *FlagManager

	assert.True(t, fm.IsEnabled(FlagEventStream))
	assert.False(t, fm.IsEnabled("nonexistent"))
	assert.Len(t, fm.Snapshot(), len(DefaultFlags))
}

func TestEnableDisable(t *testing.T) {
	fm := NewFlagManager()

	require.NoError(t, fm.Disable(FlagMediaProxy))
	assert.False(t, fm.IsEnabled(FlagMediaProxy))
	assert.Equal(t, []string{FlagMediaProxy}, fm.Disabled())

	require.NoError(t, fm.Enable(FlagMediaProxy))
	assert.True(t, fm.IsEnabled(FlagMediaProxy))

	err := fm.Enable("nonexistent")
	assert.Equal(t, ErrFlagNotFound{Name: "nonexistent"}, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestGetFlagReturnsCopy(t *testing.T) {
	fm := NewFlagManager()

	flag, err := fm.GetFlag(FlagAutoReply)
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, flag.Source)

	flag.Enabled = false
	assert.True(t, fm.IsEnabled(FlagAutoReply))

	_, err = fm.GetFlag("nonexistent")
	assert.Error(t, err)
}

func TestListFlagsSorted(t *testing.T) {
	flags := NewFlagManager().ListFlags()

	require.Len(t, flags, len(DefaultFlags))
	for i := 1; i < len(flags); i++ {
		assert.Less(t, flags[i-1].Name, flags[i].Name)
	}
}

func TestConcurrentAccess(t *testing.T) {
	fm := NewFlagManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = fm.Disable(FlagRateLimiting)
			_ = fm.Enable(FlagRateLimiting)
		}()
		go func() {
			defer wg.Done()
			_ = fm.IsEnabled(FlagRateLimiting)
			_ = fm.Snapshot()
		}()
	}
	wg.Wait()

	assert.True(t, fm.IsEnabled(FlagRateLimiting))
}
