// Package integration exercises the Docker engine wrapper against a real
// daemon. The suite skips itself when no daemon is reachable, so it is
// safe to run everywhere:
//
//	go test -v ./tests/integration/...
//
// The ephemeral-container test additionally needs a local busybox:latest
// image and skips without one (it never pulls).
package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/api7/imagecheck/internal/config"
	"github.com/api7/imagecheck/internal/validator"
	"github.com/api7/imagecheck/pkg/docker"
)

const probeImage = "busybox:latest"

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	engine *docker.Engine
}

func (s *EngineSuite) SetupSuite() {
	s.ctx = context.Background()

	engine, err := docker.NewEngine()
	if err != nil {
		s.T().Skipf("docker client unavailable: %v", err)
	}
	if err := engine.Ping(s.ctx); err != nil {
		engine.Close()
		s.T().Skipf("docker daemon unreachable: %v", err)
	}
	s.engine = engine
}

func (s *EngineSuite) TearDownSuite() {
	if s.engine != nil {
		s.engine.Close()
	}
}

func (s *EngineSuite) TestImageExistsUnknownImage() {
	exists, err := s.engine.ImageExists(s.ctx, "imagecheck-does-not-exist:never")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *EngineSuite) TestValidateMissingImageIsSetupError() {
	cfg := config.Default()
	cfg.TimeoutSeconds = 5

	v := validator.New("imagecheck-does-not-exist:never", cfg, s.engine, nil)
	_, err := v.Run(s.ctx)
	s.Require().Error(err)
	s.Contains(err.Error(), "image not found")
}

func (s *EngineSuite) TestEphemeralExecLifecycle() {
	exists, err := s.engine.ImageExists(s.ctx, probeImage)
	s.Require().NoError(err)
	if !exists {
		s.T().Skipf("%s not present locally", probeImage)
	}

	ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
	defer cancel()

	id, err := s.engine.StartEphemeral(ctx, probeImage)
	s.Require().NoError(err)
	defer func() {
		s.NoError(s.engine.Remove(context.WithoutCancel(ctx), id))
	}()

	output, exitCode, err := s.engine.Exec(ctx, id, []string{"sh", "-c", "echo ok"})
	s.Require().NoError(err)
	s.Equal(0, exitCode)
	s.Equal("ok", strings.TrimSpace(output))

	_, exitCode, err = s.engine.Exec(ctx, id, []string{"sh", "-c", "test -e /no/such/path"})
	s.Require().NoError(err)
	s.NotEqual(0, exitCode)
}

func TestEngineSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(EngineSuite))
}
