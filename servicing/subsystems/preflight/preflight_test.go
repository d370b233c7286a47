// SPDX-License-Identifier: LGPL-3.0-or-later

package preflight

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"hostagent/logger"
	"hostagent/servicing/subsystem"
	"hostagent/svcerr"
)

type fakeChecker struct {
	root       bool
	missing    []string
	forbidden  bool
	forbidWhy  string
}

func (f *fakeChecker) IsRoot() bool { return f.root }
func (f *fakeChecker) ToolPaths(names []string) (map[string]string, []string) {
	found := map[string]string{}
	for _, n := range names {
		found[n] = "/usr/sbin/" + n
	}
	return found, f.missing
}
func (f *fakeChecker) InForbiddenEnvironment() (bool, string) { return f.forbidden, f.forbidWhy }

func newCtx() *subsystem.StepContext {
	return &subsystem.StepContext{Log: logger.New("error")}
}

func TestValidateFailsWhenNotRoot(t *testing.T) {
	s := New(&fakeChecker{root: false})
	err := s.Validate(context.Background(), newCtx())

	assert.Error(t, err)
	var se *svcerr.Error
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, svcerr.KindPreflight, se.Kind)
}

func TestValidateFailsOnMissingTool(t *testing.T) {
	s := New(&fakeChecker{root: true, missing: []string{"mdadm"}})
	err := s.Validate(context.Background(), newCtx())
	assert.Error(t, err)
}

func TestValidateFailsInForbiddenEnvironment(t *testing.T) {
	s := New(&fakeChecker{root: true, forbidden: true, forbidWhy: "running inside CI container"})
	err := s.Validate(context.Background(), newCtx())
	assert.Error(t, err)
}

func TestValidatePasses(t *testing.T) {
	s := New(&fakeChecker{root: true})
	err := s.Validate(context.Background(), newCtx())
	assert.NoError(t, err)
}
