// Package store implements the project persistence layer with two
// interchangeable backends: one JSON document per project on disk, or
// normalized rows in a SQLite database. The backend is selected once at
// process start and both expose the same contract, including the exact
// JSON shape returned by Get.
package store

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// sentinel errors, callers check them with errors.Is
var (
	ErrNotFound    = errors.New("project not found")
	ErrNoPhotoData = errors.New("no photo data")
)

// Project is one site-visit record, the top-level entity
type Project struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner,omitempty"`
	Created   time.Time      `json:"created"`
	Updated   time.Time      `json:"updated,omitzero"`
	Status    string         `json:"status"`
	Property  Property       `json:"property"`
	VisitData map[string]any `json:"visit_data"`
	GpsPoints []GpsPoint     `json:"gps_points"`
	Photos    []Photo        `json:"photos"`
	Notes     string         `json:"notes"`
}

// Property holds the parcel metadata captured when a project is created
type Property struct {
	Address        string  `json:"address,omitempty"`
	ParcelID       string  `json:"parcel_id,omitempty"`
	Legal          string  `json:"legal,omitempty"`
	Acres          float64 `json:"acres,omitempty"`
	Owner          string  `json:"owner,omitempty"`
	AskingPrice    float64 `json:"asking_price,omitempty"`
	Client         string  `json:"client,omitempty"`
	ClientPhone    string  `json:"client_phone,omitempty"`
	ClientEmail    string  `json:"client_email,omitempty"`
	ElevationRange string  `json:"elevation_range,omitempty"`
	Relief         string  `json:"relief,omitempty"`
	CenterLat      float64 `json:"center_lat,omitempty"`
	CenterLon      float64 `json:"center_lon,omitempty"`
}

// GpsPoint is one recorded waypoint. Altitude is meters, ElevationFt feet,
// the timestamp is always server-assigned on append.
type GpsPoint struct {
	Label       string    `json:"label,omitempty"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Altitude    float64   `json:"altitude,omitempty"`
	ElevationFt float64   `json:"elevation_ft,omitempty"`
	Accuracy    float64   `json:"accuracy,omitempty"`
	PointType   string    `json:"point_type,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// Photo is the metadata record of one captured image. The image bytes live
// next to it: a standalone file in the file backend, a base64 column in the
// database backend.
type Photo struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	GPS       *GpsPoint `json:"gps,omitempty"`
}

// Summary is the compact project view returned by List
type Summary struct {
	ID      string    `json:"id"`
	Address string    `json:"address"`
	Client  string    `json:"client"`
	Created time.Time `json:"created"`
	Status  string    `json:"status"`
}

// Update carries the caller-supplied document fields persisted by Update.
// GPS points and photos are not part of it, they change only via the append
// operations, so a stale full-document PUT can't erase appended records.
type Update struct {
	Status    string         `json:"status"`
	Property  Property       `json:"property"`
	VisitData map[string]any `json:"visit_data"`
	Notes     string         `json:"notes"`
}

// PhotoUpload is the append-photo request: base64 payload plus metadata.
// Data may carry a data-URL prefix ("data:image/jpeg;base64,...").
type PhotoUpload struct {
	Data  string    `json:"photo"`
	Label string    `json:"label"`
	GPS   *GpsPoint `json:"gps,omitempty"`
}

// Interface defines the persistence operations both backends implement
type Interface interface {
	Create(owner string, prop Property) (string, error)
	Get(id string) (Project, error)
	List(owner string) ([]Summary, error)
	Update(id string, upd Update) error
	AddGpsPoint(id string, point GpsPoint) (int, error)
	AddPhoto(id string, upload PhotoUpload) (string, error)
	Export(id string) ([]byte, error)
	PhotoFile(filename string) ([]byte, error)
	Seed(p Project) error
	Close() error
}

// newProjectID makes a timestamp-prefixed id with a random suffix. The
// suffix removes the same-second collision hazard of a purely
// timestamp-derived id while keeping ids readable and roughly sortable.
func newProjectID(now time.Time) string {
	return now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

// newPhotoID is timestamp plus microseconds, unique within one project
func newPhotoID(now time.Time) string {
	return fmt.Sprintf("%s_%06d", now.Format("20060102_150405"), now.Nanosecond()/1000)
}

// photoFilename is the on-disk name of a photo binary in the file backend
func photoFilename(projectID, photoID string) string {
	return projectID + "_" + photoID + ".jpg"
}

// decodePhoto strips an optional data-URL prefix and decodes the base64
// payload. Empty payload is ErrNoPhotoData.
func decodePhoto(data string) ([]byte, error) {
	if data == "" {
		return nil, ErrNoPhotoData
	}
	if i := strings.Index(data, ","); i >= 0 {
		data = data[i+1:]
	}
	res, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode photo payload: %w", err)
	}
	return res, nil
}

// newProject constructs the initial record for Create: empty visit data,
// no points, no photos, status pending
func newProject(id, owner string, prop Property, now time.Time) Project {
	return Project{
		ID:        id,
		Owner:     owner,
		Created:   now,
		Status:    "pending",
		Property:  prop,
		VisitData: map[string]any{},
		GpsPoints: []GpsPoint{},
		Photos:    []Photo{},
	}
}

// applyUpdate replaces the mutable document fields, last write wins with no
// merge. Status is kept when the caller omits it.
func applyUpdate(p *Project, upd Update, now time.Time) {
	if upd.Status != "" {
		p.Status = upd.Status
	}
	if upd.VisitData == nil {
		upd.VisitData = map[string]any{}
	}
	p.Property = upd.Property
	p.VisitData = upd.VisitData
	p.Notes = upd.Notes
	p.Updated = now
}

// normalizeSeed fills the defaults Create would have set
func normalizeSeed(p *Project) {
	if p.Created.IsZero() {
		p.Created = time.Now()
	}
	if p.Status == "" {
		p.Status = "pending"
	}
	if p.VisitData == nil {
		p.VisitData = map[string]any{}
	}
	if p.GpsPoints == nil {
		p.GpsPoints = []GpsPoint{}
	}
	if p.Photos == nil {
		p.Photos = []Photo{}
	}
}
