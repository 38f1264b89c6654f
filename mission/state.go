// Package mission holds the caller-owned state of one reconnaissance mission:
// the current stage, the uploaded image, the normalized detections and the
// targets handed to the UAVs.
package mission

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/ranking"
)

// Stage is a step of the mission workflow.
type Stage int

const (
	StageStart Stage = iota
	StageVTOLDeployment
	StageDetection
	StageAnalysis
	StageUAVAssignment
	StageDelivery
	StageComplete
)

// VTOLSwarmSize is the number of VTOLs reported active once deployed.
const VTOLSwarmSize = 3

var stageNames = [...]string{
	"Mission Start",
	"VTOL Deployment",
	"AI Detection",
	"GCS Analysis",
	"UAV Assignment",
	"Relief Delivery",
	"Mission Complete",
}

func (s Stage) String() string {
	if s < StageStart || s > StageComplete {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrNoImage           = errors.New("no image attached")
	ErrNoTargets         = errors.New("no targets detected")
	ErrNotFound          = errors.New("mission not found")
)

// Status is a point-in-time view of a mission.
type Status struct {
	ID              string    `json:"id" yaml:"id"`
	Stage           Stage     `json:"stage" yaml:"stage"`
	StageName       string    `json:"stage_name" yaml:"stage_name"`
	Progress        float64   `json:"progress" yaml:"progress"`
	VTOLsActive     int       `json:"vtols_active" yaml:"vtols_active"`
	UAVsDeployed    int       `json:"uavs_deployed" yaml:"uavs_deployed"`
	TotalDetections int       `json:"total_detections" yaml:"total_detections"`
	Deliveries      int       `json:"deliveries" yaml:"deliveries"`
	SuccessRate     float64   `json:"success_rate" yaml:"success_rate"`
	ImageRef        string    `json:"image_ref,omitempty" yaml:"image_ref,omitempty"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// State is one mission. It is safe for concurrent use.
type State struct {
	mu sync.RWMutex

	id         string
	stage      Stage
	imageRef   string
	detections []models.Detection
	deployed   []models.Detection
	createdAt  time.Time
	updatedAt  time.Time
}

// New creates a mission at the start stage with a fresh id.
func New() *State {
	now := time.Now().UTC()
	return &State{
		id:         uuid.New().String(),
		detections: []models.Detection{},
		deployed:   []models.Detection{},
		createdAt:  now,
		updatedAt:  now,
	}
}

// Restore rebuilds a mission from persisted fields.
func Restore(id string, stage Stage, imageRef string, detections, deployed []models.Detection, createdAt, updatedAt time.Time) *State {
	if detections == nil {
		detections = []models.Detection{}
	}
	if deployed == nil {
		deployed = []models.Detection{}
	}
	return &State{
		id:         id,
		stage:      stage,
		imageRef:   imageRef,
		detections: detections,
		deployed:   deployed,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

func (s *State) ID() string { return s.id }

func (s *State) Stage() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

func (s *State) ImageRef() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageRef
}

func (s *State) CreatedAt() time.Time { return s.createdAt }

func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Detections returns a copy of the recorded detections, highest confidence first.
func (s *State) Detections() []models.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Detection{}, s.detections...)
}

// Deployed returns a copy of the targets assigned to UAVs.
func (s *State) Deployed() []models.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Detection{}, s.deployed...)
}

// AttachImage registers the uploaded image and deploys the VTOL swarm.
func (s *State) AttachImage(ref string) error {
	if ref == "" {
		return ErrNoImage
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StageStart); err != nil {
		return err
	}
	s.imageRef = ref
	s.advance(StageVTOLDeployment)
	return nil
}

// CompleteScan marks the VTOL reconnaissance sweep as done.
func (s *State) CompleteScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StageVTOLDeployment); err != nil {
		return err
	}
	s.advance(StageDetection)
	return nil
}

// RecordDetections stores the normalized detection set of this run,
// replacing any previous one.
func (s *State) RecordDetections(detections []models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(detections)
}

// RecordDetectionsFor is RecordDetections for detections computed from
// imageRef. It fails with ErrInvalidTransition when the mission image has
// changed since, e.g. after a reset and a new upload.
func (s *State) RecordDetectionsFor(imageRef string, detections []models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage == StageDetection && s.imageRef != imageRef {
		return fmt.Errorf("%w: detections are for image %q, mission image is %q",
			ErrInvalidTransition, imageRef, s.imageRef)
	}
	return s.record(detections)
}

func (s *State) record(detections []models.Detection) error {
	if err := s.expect(StageDetection); err != nil {
		return err
	}
	if s.imageRef == "" {
		return ErrNoImage
	}
	s.detections = append([]models.Detection{}, detections...)
	s.advance(StageAnalysis)
	return nil
}

// Analyze hands the detections to the ground control station.
func (s *State) Analyze() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StageAnalysis); err != nil {
		return err
	}
	if len(s.detections) == 0 {
		return ErrNoTargets
	}
	s.advance(StageUAVAssignment)
	return nil
}

// DeployUAVs assigns the n highest-confidence detections to UAVs. With no
// detections to assign the mission goes back to the start and ErrNoTargets
// is returned.
func (s *State) DeployUAVs(n int) ([]models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StageUAVAssignment); err != nil {
		return nil, err
	}

	targets := ranking.TopTargets(s.detections, n)
	if len(targets) == 0 {
		s.advance(StageStart)
		return nil, ErrNoTargets
	}
	s.deployed = targets
	s.advance(StageDelivery)
	return append([]models.Detection{}, targets...), nil
}

// CompleteDelivery marks every relief package as delivered.
func (s *State) CompleteDelivery() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect(StageDelivery); err != nil {
		return err
	}
	s.advance(StageComplete)
	return nil
}

// Reset returns the mission to the start, dropping image, detections and
// deployed targets.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.imageRef = ""
	s.detections = []models.Detection{}
	s.deployed = []models.Detection{}
	s.advance(StageStart)
}

// Snapshot is a consistent copy of a mission taken under one lock.
type Snapshot struct {
	Status     Status
	CreatedAt  time.Time
	Detections []models.Detection
	Deployed   []models.Detection
}

// Snapshot copies status, detections and deployed targets at once.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Status:     s.status(),
		CreatedAt:  s.createdAt,
		Detections: append([]models.Detection{}, s.detections...),
		Deployed:   append([]models.Detection{}, s.deployed...),
	}
}

// Status returns a snapshot for display.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status()
}

func (s *State) status() Status {
	status := Status{
		ID:              s.id,
		Stage:           s.stage,
		StageName:       s.stage.String(),
		Progress:        float64(s.stage) / float64(StageComplete),
		UAVsDeployed:    len(s.deployed),
		TotalDetections: len(s.detections),
		ImageRef:        s.imageRef,
		UpdatedAt:       s.updatedAt,
	}
	if s.stage >= StageVTOLDeployment {
		status.VTOLsActive = VTOLSwarmSize
	}
	if s.stage == StageComplete {
		status.Deliveries = len(s.deployed)
		status.SuccessRate = 1
	}
	return status
}

func (s *State) expect(stage Stage) error {
	if s.stage != stage {
		return fmt.Errorf("%w: mission is at %q, expected %q", ErrInvalidTransition, s.stage, stage)
	}
	return nil
}

func (s *State) advance(stage Stage) {
	s.stage = stage
	s.updatedAt = time.Now().UTC()
}
