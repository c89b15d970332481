package repository

import (
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Flexible fields are decoded into interface{} because older documents hold
// ids as strings and locations as JSON strings.

type locationDoc struct {
	Latitude  float64 `bson:"latitude"`
	Longitude float64 `bson:"longitude"`
	Address   string  `bson:"address,omitempty"`
}

type unprocessedDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	VideoURL    string             `bson:"videoUrl"`
	Location    interface{}        `bson:"location"`
	CreatedAt   time.Time          `bson:"createdAt"`
	Processed   bool               `bson:"processed"`
	ProcessedID interface{}        `bson:"processedId,omitempty"`
}

type processedDoc struct {
	ID                primitive.ObjectID `bson:"_id"`
	UnprocessedID     interface{}        `bson:"unprocessedId,omitempty"`
	OriginalVideoURL  string             `bson:"originalVideoUrl"`
	ProcessedVideoURL string             `bson:"processedVideoUrl"`
	Location          interface{}        `bson:"location"`
	CreatedAt         time.Time          `bson:"createdAt"`
	ExtraData         interface{}        `bson:"extraData,omitempty"`
	Title             string             `bson:"title,omitempty"`
	Thumbnail         string             `bson:"thumbnail,omitempty"`
	RiderName         string             `bson:"riderName,omitempty"`
	Status            string             `bson:"status,omitempty"`
	DetectionSummary  interface{}        `bson:"detection_summary,omitempty"`
}

type detectionDoc struct {
	ID               primitive.ObjectID `bson:"_id"`
	VideoID          interface{}        `bson:"video_id,omitempty"`
	UnprocessedID    interface{}        `bson:"unprocessed_id,omitempty"`
	VideoFile        string             `bson:"video_file,omitempty"`
	DurationSeconds  float64            `bson:"duration_seconds"`
	Duration         string             `bson:"duration,omitempty"`
	DetectionSummary interface{}        `bson:"detection_summary"`
	Detections       []frameDoc         `bson:"detections"`
	CreatedAt        time.Time          `bson:"created_at"`
}

type frameDoc struct {
	TimestampSeconds float64  `bson:"timestamp_seconds"`
	Timestamp        string   `bson:"timestamp,omitempty"`
	Detections       []boxDoc `bson:"detections"`
}

type boxDoc struct {
	Category    string    `bson:"category"`
	Class       string    `bson:"class,omitempty"`
	Confidence  float64   `bson:"confidence"`
	BoundingBox []float64 `bson:"bounding_box"`
}

type riderDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	Role      string             `bson:"role"`
	Status    string             `bson:"status"`
	CreatedAt time.Time          `bson:"created_at"`
}

type rewardDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	RiderID   interface{}        `bson:"rider_id"`
	Amount    float64            `bson:"amount"`
	CreatedAt time.Time          `bson:"created_at"`
}

// objectIDOrString stores valid hex ids as ObjectIDs.
func objectIDOrString(id string) interface{} {
	if id == "" {
		return nil
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v interface{}) string {
	switch t := normalizeBSON(v).(type) {
	case string:
		return t
	default:
		return ""
	}
}

func newLocationDoc(l domain.Location) interface{} {
	if !l.HasFix() {
		return nil
	}
	return locationDoc{Latitude: l.Latitude, Longitude: l.Longitude, Address: l.Address}
}

func (d *unprocessedDoc) toDomain() *domain.UnprocessedVideo {
	v := &domain.UnprocessedVideo{
		ID:          d.ID.Hex(),
		VideoURL:    d.VideoURL,
		Location:    decodeLocation(d.Location),
		CreatedAt:   d.CreatedAt.UTC(),
		Processed:   d.Processed,
		ProcessedID: idString(d.ProcessedID),
	}
	if v.ProcessedID != "" {
		v.Processed = true
	}
	return v
}

func newProcessedDoc(v *domain.ProcessedVideo) (*processedDoc, error) {
	oid, err := primitive.ObjectIDFromHex(v.ID)
	if err != nil {
		return nil, err
	}
	doc := &processedDoc{
		ID:                oid,
		UnprocessedID:     objectIDOrString(v.UnprocessedID),
		OriginalVideoURL:  v.OriginalVideoURL,
		ProcessedVideoURL: v.ProcessedVideoURL,
		Location:          newLocationDoc(v.Location),
		CreatedAt:         v.CreatedAt,
		Title:             v.Title,
		Thumbnail:         v.Thumbnail,
		RiderName:         v.RiderName,
		Status:            v.Status,
	}
	if len(v.ExtraData) > 0 {
		doc.ExtraData = map[string]interface{}(v.ExtraData)
	}
	if len(v.DetectionSummary) > 0 {
		doc.DetectionSummary = map[string]int(v.DetectionSummary)
	}
	return doc, nil
}

func (d *processedDoc) toDomain() domain.ProcessedVideo {
	return domain.ProcessedVideo{
		ID:                d.ID.Hex(),
		UnprocessedID:     idString(d.UnprocessedID),
		OriginalVideoURL:  d.OriginalVideoURL,
		ProcessedVideoURL: d.ProcessedVideoURL,
		Location:          decodeLocation(d.Location),
		CreatedAt:         d.CreatedAt.UTC(),
		ExtraData:         decodeExtraData(d.ExtraData),
		Title:             d.Title,
		Thumbnail:         d.Thumbnail,
		RiderName:         d.RiderName,
		Status:            d.Status,
		DetectionSummary:  decodeSummary(d.DetectionSummary),
	}
}

func newDetectionDoc(r *domain.DetectionResult) (*detectionDoc, error) {
	oid, err := primitive.ObjectIDFromHex(r.ID)
	if err != nil {
		return nil, err
	}
	frames := make([]frameDoc, 0, len(r.Detections))
	for _, f := range r.Detections {
		boxes := make([]boxDoc, 0, len(f.Detections))
		for _, d := range f.Detections {
			boxes = append(boxes, boxDoc{
				Category:    d.Category,
				Class:       d.Class,
				Confidence:  d.Confidence,
				BoundingBox: d.BoundingBox[:],
			})
		}
		frames = append(frames, frameDoc{
			TimestampSeconds: f.TimestampSeconds,
			Timestamp:        f.Timestamp,
			Detections:       boxes,
		})
	}
	return &detectionDoc{
		ID:               oid,
		VideoID:          objectIDOrString(r.VideoID),
		UnprocessedID:    objectIDOrString(r.UnprocessedID),
		VideoFile:        r.VideoFile,
		DurationSeconds:  r.DurationSeconds,
		Duration:         r.Duration,
		DetectionSummary: map[string]int(r.DetectionSummary.Normalize()),
		Detections:       frames,
		CreatedAt:        r.CreatedAt,
	}, nil
}

func (d *detectionDoc) toDomain() domain.DetectionResult {
	frames := make([]domain.DetectionFrame, 0, len(d.Detections))
	for _, f := range d.Detections {
		boxes := make([]domain.Detection, 0, len(f.Detections))
		for _, b := range f.Detections {
			det := domain.Detection{Category: b.Category, Class: b.Class, Confidence: b.Confidence}
			copy(det.BoundingBox[:], b.BoundingBox)
			boxes = append(boxes, det)
		}
		frames = append(frames, domain.DetectionFrame{
			TimestampSeconds: f.TimestampSeconds,
			Timestamp:        f.Timestamp,
			Detections:       boxes,
		})
	}
	duration := d.Duration
	if duration == "" && d.DurationSeconds > 0 {
		duration = domain.FormatDuration(d.DurationSeconds)
	}
	return domain.DetectionResult{
		ID:               d.ID.Hex(),
		VideoID:          idString(d.VideoID),
		UnprocessedID:    idString(d.UnprocessedID),
		VideoFile:        d.VideoFile,
		DurationSeconds:  d.DurationSeconds,
		Duration:         duration,
		DetectionSummary: decodeSummary(d.DetectionSummary).Normalize(),
		Detections:       frames,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}
