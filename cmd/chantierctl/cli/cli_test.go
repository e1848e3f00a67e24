package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/jobs"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["migrate"])
	require.True(t, names["import-market"])
	require.True(t, names["jobs"])

	cmd, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	steps, err := cmd.Flags().GetInt("steps")
	require.NoError(t, err)
	require.Equal(t, 1, steps)
}

func TestBuildTask(t *testing.T) {
	now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	task, err := buildTask("export", TriggerOptions{InvoiceID: 9}, now)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskInvoiceExport, task.Type())
	require.JSONEq(t, `{"invoice_id":9}`, string(task.Payload()))

	_, err = buildTask("export", TriggerOptions{}, now)
	require.Error(t, err)

	task, err = buildTask(jobs.TaskBillingIntegrity, TriggerOptions{}, now)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskBillingIntegrity, task.Type())

	_, err = buildTask("reindex", TriggerOptions{}, now)
	require.ErrorContains(t, err, "unsupported job")
}

func TestTriggerEnqueuesOnTheExportQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewJobsCLI(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })

	info, err := c.Trigger(context.Background(), "export", TriggerOptions{InvoiceID: 4})
	require.NoError(t, err)
	require.Equal(t, jobs.QueueExports, info.Queue)
	require.Equal(t, jobs.TaskInvoiceExport, info.Type)
}

func TestPrintImportResult(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)

	err := printImportResult(root, markets.ImportResult{
		LotsCreated:     2,
		ArticlesCreated: 3,
		Failed:          1,
		Errors:          []markets.ImportRowError{{Row: 5, Message: "quantity must be a number"}},
	})
	require.NoError(t, err)
	require.Equal(t, "lots created: 2, articles created: 3, rows failed: 1\n  row 5: quantity must be a number\n", out.String())
}
