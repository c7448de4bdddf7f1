// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendCommand appends its suffix to the string input.
type appendCommand struct {
	cor.BaseCommand
	suffix string
	fail   bool
}

func newAppend(name, suffix string, fail bool) *appendCommand {
	return &appendCommand{BaseCommand: *cor.NewBaseCommand(name), suffix: suffix, fail: fail}
}

func (a *appendCommand) Execute(context cor.Context) {
	in, _ := cor.Get[string](context, a.GetInputParam())
	if a.fail {
		a.Fail(context, errors.New("boom"))
		return
	}
	a.Succeed(context)
	context.Add(a.GetOutputParam(), in+a.suffix)
}

func TestChainPipesOutputToInput(t *testing.T) {
	chain := cor.NewBaseChain("pipe")
	chain.AddCommand(newAppend("a", "-a", false)).AddCommand(newAppend("b", "-b", false))

	chCtx := cor.NewBaseContext()
	defer chCtx.Close()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, "x")

	chain.Execute(chCtx)

	assert.False(t, chCtx.HasErrors())
	out, ok := cor.Get[string](chCtx, cor.CtxIn)
	assert.True(t, ok)
	assert.Equal(t, "x-a-b", out)
}

func TestChainStopsOnFailure(t *testing.T) {
	chain := cor.NewBaseChain("stop")
	last := newAppend("c", "-c", false)
	chain.AddCommand(newAppend("a", "-a", false)).AddCommand(newAppend("b", "", true)).AddCommand(last)

	chCtx := cor.NewBaseContext()
	chCtx.SetContext(context.Background())
	chCtx.Add(cor.CtxIn, "x")
	chain.Execute(chCtx)

	assert.True(t, chCtx.HasErrors())
	assert.Contains(t, chCtx.GetErrors(), "b")
	assert.Nil(t, chCtx.Get(cor.CtxIn))
}

func TestChainHonoursCancellation(t *testing.T) {
	chain := cor.NewBaseChain("cancelled")
	chain.AddCommand(newAppend("a", "-a", false))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chCtx := cor.NewBaseContext()
	chCtx.SetContext(ctx)
	chCtx.Add(cor.CtxIn, "x")
	chain.Execute(chCtx)

	require.True(t, chCtx.HasErrors())
	assert.ErrorIs(t, chCtx.GetErrors()["cancelled"], context.Canceled)
	assert.Equal(t, ctx, chCtx.GetContext())
}

func TestContextCloseRemovesTempPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "upload.mp4")
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(frames, "nested"), 0o700))

	chCtx := cor.NewBaseContext()
	chCtx.AddTempFile(file)
	chCtx.AddTempFile(frames)
	chCtx.AddTempFile(filepath.Join(dir, "never-created"))
	chCtx.Close()

	_, err := os.Stat(file)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(frames)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, chCtx.GetTempFiles())
}

func TestGetTyped(t *testing.T) {
	chCtx := cor.NewBaseContext()
	chCtx.Add("n", 3)
	_, ok := cor.Get[string](chCtx, "n")
	assert.False(t, ok)
	n, ok := cor.Get[int](chCtx, "n")
	assert.True(t, ok)
	assert.Equal(t, 3, n)
}
