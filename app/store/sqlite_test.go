package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestNewSQLiteStore(t *testing.T) {
	s := prepSQLiteStore(t)

	var mode string
	require.NoError(t, s.db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}

func TestSQLiteStore_Initialize(t *testing.T) {
	s := prepSQLiteStore(t)

	var tables []string
	err := s.db.Select(&tables, "SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	require.NoError(t, err)
	assert.Contains(t, tables, "projects")
	assert.Contains(t, tables, "gps_points")
	assert.Contains(t, tables, "photos")

	// second run is a no-op
	require.NoError(t, s.Initialize())
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("kyle@example.com", Property{Address: "123 Forest Rd", Client: "Trilakes LLC", Acres: 12.5})
	require.NoError(t, err)
	assert.Len(t, id, len("20060102_150405")+1+8)

	p, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "kyle@example.com", p.Owner)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "123 Forest Rd", p.Property.Address)
	assert.Equal(t, 12.5, p.Property.Acres)
	assert.NotNil(t, p.VisitData)
	assert.Empty(t, p.VisitData)
	assert.Empty(t, p.GpsPoints)
	assert.Empty(t, p.Photos)
	assert.WithinDuration(t, time.Now(), p.Created, time.Minute)
	assert.True(t, p.Updated.IsZero(), "updated not set before the first update")

	_, err = s.Get("no-such-project")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_List(t *testing.T) {
	s := prepSQLiteStore(t)

	require.NoError(t, s.Seed(Project{ID: "20250101_000000_aaaa", Owner: "a@example.com",
		Property: Property{Address: "first", Client: "c1"}}))
	require.NoError(t, s.Seed(Project{ID: "20250102_000000_bbbb", Owner: "b@example.com",
		Property: Property{Address: "second"}}))
	require.NoError(t, s.Seed(Project{ID: "20250103_000000_cccc", Property: Property{Address: "ownerless"}}))

	t.Run("all projects without owner filter", func(t *testing.T) {
		res, err := s.List("")
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, "20250101_000000_aaaa", res[0].ID, "sorted by id")
		assert.Equal(t, "first", res[0].Address)
		assert.Equal(t, "c1", res[0].Client)
		assert.Equal(t, "pending", res[0].Status)
	})

	t.Run("owner filter keeps own and ownerless projects", func(t *testing.T) {
		res, err := s.List("a@example.com")
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "20250101_000000_aaaa", res[0].ID)
		assert.Equal(t, "20250103_000000_cccc", res[1].ID)
	})

	t.Run("empty store", func(t *testing.T) {
		empty := prepSQLiteStore(t)
		res, err := empty.List("")
		require.NoError(t, err)
		assert.NotNil(t, res)
		assert.Empty(t, res)
	})
}

func TestSQLiteStore_Update(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("", Property{Address: "original"})
	require.NoError(t, err)
	_, err = s.AddGpsPoint(id, GpsPoint{Lat: 38.9, Lon: -104.8})
	require.NoError(t, err)

	upd := Update{
		Status:    "in_progress",
		Property:  Property{Address: "updated"},
		VisitData: map[string]any{"access": map[string]any{"road": "gravel"}, "wells": float64(2)},
		Notes:     "first pass",
	}
	require.NoError(t, s.Update(id, upd))

	p, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", p.Status)
	assert.Equal(t, "updated", p.Property.Address)
	assert.Equal(t, upd.VisitData, p.VisitData)
	assert.Equal(t, "first pass", p.Notes)
	assert.False(t, p.Updated.IsZero())
	assert.Len(t, p.GpsPoints, 1, "appended point survives a document update")

	t.Run("last write wins, no merge", func(t *testing.T) {
		require.NoError(t, s.Update(id, Update{VisitData: map[string]any{"soil": "sandy"}, Notes: "second pass"}))
		p, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"soil": "sandy"}, p.VisitData, "keys from the first update are gone")
		assert.Equal(t, "in_progress", p.Status, "omitted status keeps the stored one")
		assert.Empty(t, p.Property.Address, "property replaced wholesale")
	})

	t.Run("not found", func(t *testing.T) {
		assert.ErrorIs(t, s.Update("missing", Update{}), ErrNotFound)
	})
}

func TestSQLiteStore_AddGpsPoint(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("", Property{})
	require.NoError(t, err)

	before := time.Now()
	count, err := s.AddGpsPoint(id, GpsPoint{Label: "NE corner", Lat: 38.9, Lon: -104.8, Altitude: 2100,
		ElevationFt: 6889, Accuracy: 4.2, PointType: "corner", Timestamp: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.AddGpsPoint(id, GpsPoint{Lat: 38.91, Lon: -104.81})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	p, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, p.GpsPoints, 2)
	pt := p.GpsPoints[0]
	assert.Equal(t, "NE corner", pt.Label)
	assert.Equal(t, 38.9, pt.Lat)
	assert.Equal(t, -104.8, pt.Lon)
	assert.Equal(t, 2100.0, pt.Altitude)
	assert.Equal(t, 6889.0, pt.ElevationFt)
	assert.Equal(t, "corner", pt.PointType)
	assert.False(t, pt.Timestamp.Before(before), "timestamp is server-assigned, caller value ignored")

	_, err = s.AddGpsPoint("missing", GpsPoint{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AddPhoto(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("", Property{})
	require.NoError(t, err)

	photoID, err := s.AddPhoto(id, PhotoUpload{Data: "data:image/jpeg;base64,QQ==", Label: "gate"})
	require.NoError(t, err)
	require.NotEmpty(t, photoID)

	p, err := s.Get(id)
	require.NoError(t, err)
	require.Len(t, p.Photos, 1)
	ph := p.Photos[0]
	assert.Equal(t, photoID, ph.ID)
	assert.Equal(t, "gate", ph.Label)
	assert.Equal(t, id+"_"+photoID+".jpg", ph.Filename)
	assert.False(t, ph.Timestamp.IsZero())
	assert.Nil(t, ph.GPS)

	var stored string
	require.NoError(t, s.db.Get(&stored, "SELECT data FROM photos WHERE project_id = ? AND id = ?", id, photoID))
	assert.Equal(t, "QQ==", stored, "data-url prefix stripped, plain base64 stored")

	t.Run("default label", func(t *testing.T) {
		pid, err := s.AddPhoto(id, PhotoUpload{Data: "QQ=="})
		require.NoError(t, err)
		var label string
		require.NoError(t, s.db.Get(&label, "SELECT label FROM photos WHERE project_id = ? AND id = ?", id, pid))
		assert.Equal(t, "Photo", label)
	})

	t.Run("gps attached to photo", func(t *testing.T) {
		pid, err := s.AddPhoto(id, PhotoUpload{Data: "QQ==", GPS: &GpsPoint{Lat: 1.5, Lon: 2.5}})
		require.NoError(t, err)
		p, err := s.Get(id)
		require.NoError(t, err)
		for _, photo := range p.Photos {
			if photo.ID != pid {
				continue
			}
			require.NotNil(t, photo.GPS)
			assert.Equal(t, 1.5, photo.GPS.Lat)
		}
	})

	t.Run("empty payload rejected, nothing inserted", func(t *testing.T) {
		var before int
		require.NoError(t, s.db.Get(&before, "SELECT COUNT(*) FROM photos WHERE project_id = ?", id))

		_, err := s.AddPhoto(id, PhotoUpload{Data: ""})
		assert.ErrorIs(t, err, ErrNoPhotoData)

		var after int
		require.NoError(t, s.db.Get(&after, "SELECT COUNT(*) FROM photos WHERE project_id = ?", id))
		assert.Equal(t, before, after, "rejected upload leaves no row")
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := s.AddPhoto("missing", PhotoUpload{Data: "QQ=="})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteStore_Export(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("", Property{Address: "export me"})
	require.NoError(t, err)
	_, err = s.AddGpsPoint(id, GpsPoint{Lat: 1, Lon: 2})
	require.NoError(t, err)

	data, err := s.Export(id)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"export me"`)
	assert.Contains(t, string(data), `"gps_points"`)

	_, err = s.Export("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_PhotoFile(t *testing.T) {
	s := prepSQLiteStore(t)
	_, err := s.PhotoFile("anything.jpg")
	assert.ErrorIs(t, err, ErrNotFound, "binaries live in the data column, not on disk")
}

func TestSQLiteStore_Seed(t *testing.T) {
	s := prepSQLiteStore(t)

	seedProject := Project{
		ID:       "seeded_1",
		Property: Property{Address: "seed addr"},
		GpsPoints: []GpsPoint{
			{Label: "gate", Lat: 38.9, Lon: -104.8, Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, s.Seed(seedProject))

	p, err := s.Get("seeded_1")
	require.NoError(t, err)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "seed addr", p.Property.Address)
	assert.False(t, p.Created.IsZero())
	require.Len(t, p.GpsPoints, 1)
	assert.Equal(t, "gate", p.GpsPoints[0].Label)

	// existing record stays untouched on repeated seeding
	require.NoError(t, s.Update("seeded_1", Update{Notes: "field notes", Property: p.Property}))
	require.NoError(t, s.Seed(Project{ID: "seeded_1", Property: Property{Address: "other addr"}}))

	p, err = s.Get("seeded_1")
	require.NoError(t, err)
	assert.Equal(t, "field notes", p.Notes)
	assert.Equal(t, "seed addr", p.Property.Address)
}

func TestSQLiteStore_CascadeDelete(t *testing.T) {
	s := prepSQLiteStore(t)

	id, err := s.Create("", Property{})
	require.NoError(t, err)
	_, err = s.AddGpsPoint(id, GpsPoint{Lat: 1, Lon: 2})
	require.NoError(t, err)
	_, err = s.AddPhoto(id, PhotoUpload{Data: "QQ=="})
	require.NoError(t, err)

	_, err = s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	require.NoError(t, err)

	var points, photos int
	require.NoError(t, s.db.Get(&points, "SELECT COUNT(*) FROM gps_points WHERE project_id = ?", id))
	require.NoError(t, s.db.Get(&photos, "SELECT COUNT(*) FROM photos WHERE project_id = ?", id))
	assert.Zero(t, points)
	assert.Zero(t, photos)
}
