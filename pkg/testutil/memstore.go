package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/track360/track360-backend/internal/video/domain"
	"github.com/track360/track360-backend/internal/video/repository"
	"github.com/track360/track360-backend/pkg/errors"
)

// MemoryStore is an in-memory repository.Store for service and handler
// tests. It follows the same ordering and conflict rules as the real stores.
type MemoryStore struct {
	mu          sync.Mutex
	seq         int64
	unprocessed map[string]*storedUnprocessed
	processed   map[string]*storedProcessed
	detections  []storedDetection
	riders      []domain.Rider
	rewards     []domain.Reward

	// Calls counts every store method invocation by name.
	Calls map[string]int
	// Err, when set for a method name, is returned by that method.
	Err map[string]error
}

type storedUnprocessed struct {
	v   domain.UnprocessedVideo
	seq int64
}

type storedProcessed struct {
	v   domain.ProcessedVideo
	seq int64
}

type storedDetection struct {
	r   domain.DetectionResult
	seq int64
}

var _ repository.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		unprocessed: make(map[string]*storedUnprocessed),
		processed:   make(map[string]*storedProcessed),
		Calls:       make(map[string]int),
		Err:         make(map[string]error),
	}
}

func (m *MemoryStore) enter(name string) error {
	m.Calls[name]++
	return m.Err[name]
}

// TotalCalls is the number of store calls made so far.
func (m *MemoryStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		n += c
	}
	return n
}

// ProcessedCount returns the number of stored processed videos.
func (m *MemoryStore) ProcessedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}

// DetectionResults returns a copy of every stored detection result.
func (m *MemoryStore) DetectionResults() []domain.DetectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DetectionResult, 0, len(m.detections))
	for _, d := range m.detections {
		out = append(out, d.r)
	}
	return out
}

func (m *MemoryStore) next() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) InsertUnprocessed(_ context.Context, v *domain.UnprocessedVideo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertUnprocessed"); err != nil {
		return err
	}
	if v.ID == "" {
		v.ID = repository.NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if !v.Location.Valid() {
		return errors.Invalid("location coordinates are out of range")
	}
	v.Processed = false
	v.ProcessedID = ""
	m.unprocessed[v.ID] = &storedUnprocessed{v: *v, seq: m.next()}
	return nil
}

func (m *MemoryStore) GetUnprocessed(_ context.Context, id string) (*domain.UnprocessedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUnprocessed"); err != nil {
		return nil, err
	}
	s, ok := m.unprocessed[id]
	if !ok {
		return nil, errors.NotFound("unprocessed video")
	}
	v := s.v
	return &v, nil
}

func (m *MemoryStore) LatestUnprocessed(_ context.Context) (*domain.UnprocessedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LatestUnprocessed"); err != nil {
		return nil, err
	}
	var latest *storedUnprocessed
	for _, s := range m.unprocessed {
		if s.v.Processed {
			continue
		}
		if latest == nil || ranksFirst(s.v.CreatedAt, s.seq, latest.v.CreatedAt, latest.seq) {
			latest = s
		}
	}
	if latest == nil {
		return nil, errors.NotFound("unprocessed video")
	}
	v := latest.v
	return &v, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, unprocessedID, processedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkProcessed"); err != nil {
		return err
	}
	s, ok := m.unprocessed[unprocessedID]
	if !ok {
		return errors.NotFound("unprocessed video")
	}
	if s.v.Processed {
		return errors.Conflict(repository.AlreadyProcessedMessage)
	}
	s.v.Processed = true
	s.v.ProcessedID = processedID
	return nil
}

func (m *MemoryStore) InsertProcessed(_ context.Context, v *domain.ProcessedVideo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertProcessed"); err != nil {
		return err
	}
	if v.UnprocessedID != "" {
		for _, s := range m.processed {
			if s.v.UnprocessedID == v.UnprocessedID {
				return errors.Conflict(repository.AlreadyProcessedMessage)
			}
		}
	}
	if v.ID == "" {
		v.ID = repository.NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.processed[v.ID] = &storedProcessed{v: *v, seq: m.next()}
	return nil
}

func (m *MemoryStore) GetProcessed(_ context.Context, id string) (*domain.ProcessedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProcessed"); err != nil {
		return nil, err
	}
	s, ok := m.processed[id]
	if !ok {
		return nil, errors.NotFound("video")
	}
	v := s.v
	return &v, nil
}

func (m *MemoryStore) GetProcessedByUnprocessedID(_ context.Context, unprocessedID string) (*domain.ProcessedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetProcessedByUnprocessedID"); err != nil {
		return nil, err
	}
	for _, s := range m.processed {
		if s.v.UnprocessedID == unprocessedID {
			v := s.v
			return &v, nil
		}
	}
	return nil, errors.NotFound("video")
}

func (m *MemoryStore) ListProcessed(_ context.Context, q repository.ProcessedQuery) ([]domain.ProcessedVideo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListProcessed"); err != nil {
		return nil, err
	}

	all := make([]*storedProcessed, 0, len(m.processed))
	for _, s := range m.processed {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return ranksFirst(all[i].v.CreatedAt, all[i].seq, all[j].v.CreatedAt, all[j].seq)
	})

	needle := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]domain.ProcessedVideo, 0, len(all))
	for _, s := range all {
		v := s.v
		if needle != "" &&
			!strings.Contains(strings.ToLower(v.Title), needle) &&
			!strings.Contains(strings.ToLower(v.Location.Address), needle) {
			continue
		}
		if q.WithLocation && (!v.Location.HasFix() || !v.Location.Valid()) {
			continue
		}
		out = append(out, v)
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []domain.ProcessedVideo{}, nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertDetectionResult(_ context.Context, r *domain.DetectionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertDetectionResult"); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = repository.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.detections = append(m.detections, storedDetection{r: *r, seq: m.next()})
	return nil
}

func (m *MemoryStore) FindDetectionResult(_ context.Context, processedID, unprocessedID string) (*domain.DetectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindDetectionResult"); err != nil {
		return nil, err
	}

	match := []func(domain.DetectionResult) bool{}
	if processedID != "" {
		match = append(match, func(r domain.DetectionResult) bool { return r.VideoID == processedID })
	}
	if unprocessedID != "" {
		match = append(match,
			func(r domain.DetectionResult) bool { return r.UnprocessedID == unprocessedID },
			func(r domain.DetectionResult) bool { return r.VideoID == unprocessedID },
		)
	}

	for _, fn := range match {
		var best *storedDetection
		for i := range m.detections {
			d := &m.detections[i]
			if !fn(d.r) {
				continue
			}
			if best == nil || ranksFirst(d.r.CreatedAt, d.seq, best.r.CreatedAt, best.seq) {
				best = d
			}
		}
		if best != nil {
			r := best.r
			return &r, nil
		}
	}
	return nil, errors.NotFound("detection result")
}

func (m *MemoryStore) ListDetectionResults(_ context.Context, since time.Time) ([]domain.DetectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListDetectionResults"); err != nil {
		return nil, err
	}
	out := make([]domain.DetectionResult, 0)
	for _, d := range m.detections {
		if !d.r.CreatedAt.Before(since) {
			out = append(out, d.r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DetectionCategoryCounts(_ context.Context) (domain.DetectionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DetectionCategoryCounts"); err != nil {
		return nil, err
	}
	out := domain.DetectionSummary{}
	for _, d := range m.detections {
		out.Add(d.r.CountByCategory())
	}
	return out.Normalize(), nil
}

func (m *MemoryStore) CountVideos(_ context.Context) (domain.VideoCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountVideos"); err != nil {
		return domain.VideoCounts{}, err
	}
	counts := domain.VideoCounts{Total: int64(len(m.unprocessed)), Processed: int64(len(m.processed))}
	for _, s := range m.unprocessed {
		if !s.v.Processed {
			counts.Unprocessed++
		}
	}
	return counts, nil
}

func (m *MemoryStore) CountActiveRiders(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CountActiveRiders"); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range m.riders {
		if r.Role == domain.RoleRider && r.Status == domain.RiderActive {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SumRewards(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SumRewards"); err != nil {
		return 0, err
	}
	var total float64
	for _, r := range m.rewards {
		total += r.Amount
	}
	return total, nil
}

func (m *MemoryStore) InsertRider(_ context.Context, r *domain.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertRider"); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = repository.NewID()
	}
	m.riders = append(m.riders, *r)
	return nil
}

func (m *MemoryStore) InsertReward(_ context.Context, r *domain.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertReward"); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = repository.NewID()
	}
	m.rewards = append(m.rewards, *r)
	return nil
}

func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (m *MemoryStore) Health(context.Context) map[string]string {
	return map[string]string{"status": "healthy", "driver": "memory"}
}

// ranksFirst orders newest first, ties in insertion order.
func ranksFirst(at time.Time, seq int64, otherAt time.Time, otherSeq int64) bool {
	if !at.Equal(otherAt) {
		return at.After(otherAt)
	}
	return seq < otherSeq
}
