package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartBin/internal/domain/model"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, ".env", opts.envFile)
	assert.False(t, opts.simulate)
	assert.Equal(t, time.Second, opts.simInterval)

	opts, err = parseFlags([]string{"--env-file", "prod.env", "--simulate", "--simulate-interval", "250ms"})
	require.NoError(t, err)
	assert.Equal(t, "prod.env", opts.envFile)
	assert.True(t, opts.simulate)
	assert.Equal(t, 250*time.Millisecond, opts.simInterval)

	_, err = parseFlags([]string{"--simulate-interval", "0s"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"--help"})
	assert.True(t, errors.Is(err, pflag.ErrHelp))
}

func TestSetupLogger(t *testing.T) {
	for _, env := range []string{envLocal, envDev, envProd, "staging"} {
		log := setupLogger(env)
		require.NotNil(t, log, env)
	}
	assert.True(t, setupLogger(envDev).Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, setupLogger(envProd).Enabled(context.Background(), slog.LevelDebug))
}

type countingPublisher struct {
	mu         sync.Mutex
	detections int
	binStatus  int
}

func (p *countingPublisher) PublishDetection(ctx context.Context, event model.DetectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detections++
	return nil
}

func (p *countingPublisher) PublishBinStatus(ctx context.Context, event model.BinStatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.binStatus++
	return errors.New("not connected")
}

func (p *countingPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detections, p.binStatus
}

func TestRunSimulatorPublishesUntilCancelled(t *testing.T) {
	pub := &countingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan error, 1)
	go func() { done <- runSimulator(ctx, pub, 2*time.Millisecond, log) }()

	require.Eventually(t, func() bool {
		d, _ := pub.counts()
		return d >= binStatusEvery+1
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("simulator did not stop")
	}

	d, b := pub.counts()
	assert.GreaterOrEqual(t, b, 2, "bin status goes out every few detections, publish errors do not stop it")
	assert.Greater(t, d, b)
}
