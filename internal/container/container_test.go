package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/prodflow/internal/application/service"
	"github.com/garyjia/prodflow/internal/config"
	"github.com/garyjia/prodflow/internal/domain/entity"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "prodflow.db")
	cfg.Billing.ExportDir = filepath.Join(t.TempDir(), "exports")
	cfg.Outbox.PollInterval = 10 * time.Millisecond
	return cfg
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewContainer(testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Sequence.Backend = "etcd"
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_RunsOrderThroughWorker(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(ctx))

	svc := c.Services()
	require.NoError(t, svc.Templates.SaveTemplate(ctx, &entity.RunTemplate{
		ID:        "FLYER",
		ProcessID: "OFFSET",
		Name:      "Flyer",
		Formula:   "quantity * 0.5",
		Fields:    []entity.FieldDef{{Key: "quantity", Label: "Quantity", Type: entity.FieldNumber, Required: true}},
	}))

	placed, err := svc.Orders.PlaceOrder(ctx, service.PlaceOrderInput{
		CustomerName: "Acme Print",
		Processes:    []service.ProcessSpec{{ProcessID: "OFFSET", TemplateIDs: []string{"FLYER"}, BatchCount: 3}},
	})
	require.NoError(t, err)
	c.OutboxWorker().Wake()

	assert.Eventually(t, func() bool {
		runs, err := svc.Runs.ListOrderRuns(ctx, placed.Order.ID)
		return err == nil && len(runs) == 3
	}, 2*time.Second, 10*time.Millisecond)

	health := c.Health(ctx)
	assert.True(t, health.Overall)
	assert.True(t, health.Components["database"].Healthy)
	assert.True(t, health.Components["workers"].Healthy)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(ctx))
}

func TestContainer_WithoutWorkers(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop(), WithWorkers(false))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	assert.False(t, c.Workers().IsRunning())
	_, ok := c.Health(ctx).Components["workers"]
	assert.False(t, ok)

	res, err := c.Relay().Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}
