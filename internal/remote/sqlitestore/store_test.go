package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kopikiosk/internal/remote"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiosk.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	_, path := openTemp(t)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := openTemp(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestWriteRow_UpsertKeepsPosition(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	require.NoError(t, s.WriteRow(ctx, remote.SheetCoffee, "espresso", remote.Record{remote.ColStock: "3"}))
	require.NoError(t, s.WriteRow(ctx, remote.SheetCoffee, "latte", remote.Record{remote.ColStock: "1"}))
	require.NoError(t, s.WriteRow(ctx, remote.SheetCoffee, "espresso", remote.Record{remote.ColStock: "7"}))

	rows, err := s.ReadAll(ctx, remote.SheetCoffee)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "espresso", rows[0].Key)
	assert.Equal(t, "7", rows[0].Record[remote.ColStock])
	assert.Equal(t, "latte", rows[1].Key)
}

func TestAppendRow_SheetsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	k1, err := s.AppendRow(ctx, remote.SheetSales, remote.Record{remote.ColQuantity: "1"})
	require.NoError(t, err)
	k2, err := s.AppendRow(ctx, remote.SheetSales, remote.Record{remote.ColQuantity: "2"})
	require.NoError(t, err)
	_, err = s.AppendRow(ctx, remote.SheetOnlineQueue, remote.Record{remote.ColQR: "abc"})
	require.NoError(t, err)

	rows, err := s.ReadAll(ctx, remote.SheetSales)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, k1, rows[0].Key)
	assert.Equal(t, k2, rows[1].Key)
	assert.Equal(t, "2", rows[1].Record[remote.ColQuantity])
}

func TestReadAll_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiosk.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.WriteRow(ctx, remote.SheetAdditive, "gula", remote.Record{remote.ColStock: "40"}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rows, err := s2.ReadAll(ctx, remote.SheetAdditive)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "40", rows[0].Record[remote.ColStock])
}

func TestReadAll_EmptySheet(t *testing.T) {
	s, _ := openTemp(t)

	rows, err := s.ReadAll(context.Background(), remote.SheetPayments)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
