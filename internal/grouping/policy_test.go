package grouping

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/aduanhub/caselink/internal/db/gorm"
	"github.com/aduanhub/caselink/internal/index"
	"github.com/aduanhub/caselink/internal/vectorizer"
	"github.com/aduanhub/caselink/pkg/models"
)

const testDimension = 128

type testEnv struct {
	svc      *Service
	records  *storage.RecordStore
	cases    *storage.CaseStore
	idx      *index.Memory
	embedder *vectorizer.HashEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewStore(storage.Config{
		Driver: storage.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "caselink.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	records := storage.NewRecordStore(store)
	cases := storage.NewCaseStore(store, "CASE")
	idx := index.NewMemory(testDimension)
	embedder := vectorizer.NewHashEmbedder(testDimension)

	svc := NewService(records, cases, idx, embedder, Options{})
	return &testEnv{svc: svc, records: records, cases: cases, idx: idx, embedder: embedder}
}

// submit inserts a record and runs the full pipeline, returning the record
// id and the case id the policy decided on.
func (e *testEnv) submit(t *testing.T, title, text string) (int64, int64) {
	t.Helper()
	ctx := context.Background()

	id, err := e.records.Insert(ctx, models.NewRecord(title, text, models.UrgencyMedium))
	require.NoError(t, err)

	caseID, err := e.svc.ProcessRecord(ctx, id)
	require.NoError(t, err)
	return id, caseID
}

// stage inserts a record with its vector persisted and indexed but leaves
// it ungrouped, as after a mid-pipeline failure.
func (e *testEnv) stage(t *testing.T, title, text string) int64 {
	t.Helper()
	ctx := context.Background()

	rec := models.NewRecord(title, text, models.UrgencyMedium)
	id, err := e.records.Insert(ctx, rec)
	require.NoError(t, err)

	vec, err := e.embedder.Embed(ctx, rec.EmbeddingText())
	require.NoError(t, err)
	require.NoError(t, e.records.SetVector(ctx, id, vec))
	require.NoError(t, e.idx.Add(ctx, id, vec))
	return id
}

func TestSequentialNearIdenticalReportsShareOneCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Pegawai menerima rasuah RM5000 untuk meluluskan tender projek jalan raya"
	_, case1 := env.submit(t, "Rasuah tender jalan raya", text)
	_, case2 := env.submit(t, "Rasuah tender jalan raya", text)
	_, case3 := env.submit(t, "Rasuah tender jalan raya", text)

	assert.Equal(t, case1, case2)
	assert.Equal(t, case1, case3)

	c, err := env.cases.GetCase(ctx, case1)
	require.NoError(t, err)
	assert.Equal(t, 3, c.MemberCount)

	members, err := env.cases.GetMembers(ctx, case1)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestUnrelatedReportCreatesItsOwnCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, case1 := env.submit(t, "Rasuah tender",
		"Pegawai menerima rasuah untuk meluluskan tender projek jalan raya")
	_, case2 := env.submit(t, "Kehilangan aset",
		"Komputer riba pejabat hilang dari stor tanpa rekod pergerakan")

	assert.NotEqual(t, case1, case2)

	c2, err := env.cases.GetCase(ctx, case2)
	require.NoError(t, err)
	assert.Equal(t, 1, c2.MemberCount)
	assert.False(t, c2.AutoGrouped)
}

func TestClosedCaseIsReferencedNotJoined(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Penyelewengan dana peruntukan program komuniti daerah"
	_, case1 := env.submit(t, "Penyelewengan dana", text)

	require.NoError(t, env.cases.UpdateCase(ctx, case1, map[string]interface{}{
		"status": string(models.CaseStatusClosed),
	}))

	_, case2 := env.submit(t, "Penyelewengan dana", text)
	assert.NotEqual(t, case1, case2, "closed cases never accept new members")

	c2, err := env.cases.GetCase(ctx, case2)
	require.NoError(t, err)
	assert.Equal(t, 1, c2.MemberCount)
	require.Len(t, c2.RelatedClosed, 1)
	assert.Equal(t, case1, c2.RelatedClosed[0].CaseID)
	assert.InDelta(t, 1.0, c2.RelatedClosed[0].Score, 1e-5)

	// References are advisory: the closed case itself is untouched.
	c1, err := env.cases.GetCase(ctx, case1)
	require.NoError(t, err)
	assert.Equal(t, 1, c1.MemberCount)
	assert.Equal(t, models.CaseStatusClosed, c1.Status)
}

func TestUnassignedCandidatesCoFoundCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Kontraktor menawarkan wang kepada pegawai penilai projek bekalan"
	staged1 := env.stage(t, "Tawaran wang kontraktor", text)
	staged2 := env.stage(t, "Tawaran wang kontraktor", text)

	recID, caseID := env.submit(t, "Tawaran wang kontraktor", text)

	c, err := env.cases.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.True(t, c.AutoGrouped)
	assert.Equal(t, 3, c.MemberCount)

	for _, id := range []int64{recID, staged1, staged2} {
		got, err := env.cases.GetCaseForRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, caseID, got.ID)
	}
}

func TestSingleUnassignedCandidateIsNotEnoughToCoFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Pegawai stor menjual aset kerajaan kepada pihak luar"
	staged := env.stage(t, "Penjualan aset", text)

	_, caseID := env.submit(t, "Penjualan aset", text)

	c, err := env.cases.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.False(t, c.AutoGrouped)
	assert.Equal(t, 1, c.MemberCount)

	// The staged record stays unassigned until its own grouping runs.
	_, err = env.cases.GetCaseForRecord(ctx, staged)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGroupRecordIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recID, caseID := env.submit(t, "Laporan berulang",
		"Pegawai meminta bayaran untuk mempercepatkan permohonan lesen")

	again, err := env.svc.GroupRecord(ctx, recID)
	require.NoError(t, err)
	assert.Equal(t, caseID, again)

	c, err := env.cases.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.MemberCount)
}

func TestGroupRecordWithoutVectorFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.records.Insert(ctx,
		models.NewRecord("Tiada vektor", "teks", models.UrgencyLow))
	require.NoError(t, err)

	_, err = env.svc.GroupRecord(ctx, id)
	assert.ErrorIs(t, err, vectorizer.ErrVectorUnavailable)
}

func TestFindSimilarExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Penyalahgunaan kenderaan jabatan untuk urusan peribadi"
	id1, _ := env.submit(t, "Penyalahgunaan kenderaan", text)
	id2, _ := env.submit(t, "Penyalahgunaan kenderaan", text)

	matches, err := env.svc.FindSimilar(ctx, id1, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id2, matches[0].ID)
	assert.Equal(t, 1, matches[0].Rank)
	for _, m := range matches {
		assert.NotEqual(t, id1, m.ID)
	}
}

func TestThresholdHotReloadChangesDecisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	text := "Pegawai menerima hadiah daripada pembekal sebelum keputusan sebut harga"
	_, case1 := env.submit(t, "Hadiah pembekal", text)

	// At an impossible threshold even an identical report stands alone.
	env.svc.SetThreshold(1.01)
	_, case2 := env.submit(t, "Hadiah pembekal", text)
	assert.NotEqual(t, case1, case2)

	env.svc.SetThreshold(DefaultThreshold)
	_, case3 := env.submit(t, "Hadiah pembekal", text)
	assert.Equal(t, case1, case3)

	c, err := env.cases.GetCase(ctx, case1)
	require.NoError(t, err)
	assert.Equal(t, 2, c.MemberCount)
}

func TestRemoveLastMemberDeletesCase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	recID, caseID := env.submit(t, "Kes tunggal",
		"Pembayaran dibuat kepada syarikat yang tidak wujud dalam rekod pendaftaran")

	require.NoError(t, env.cases.RemoveMembership(ctx, caseID, recID))

	_, err := env.cases.GetCase(ctx, caseID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := env.svc.GetCaseForRecord(ctx, recID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Regrouping the freed record builds a fresh case.
	newCase, err := env.svc.GroupRecord(ctx, recID)
	require.NoError(t, err)
	assert.NotEqual(t, caseID, newCase)
}

func TestGetCaseForRecordUnassigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.stage(t, "Belum dikumpulkan",
		"Aduan mengenai kelewatan bayaran kepada pembekal kecil")

	c, err := env.svc.GetCaseForRecord(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, c)
}
