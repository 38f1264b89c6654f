// Package service drives missions through their stages and fans each change
// out to persistence, the event stream and connected dashboards.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aerie/mission-core/inference"
	"github.com/aerie/mission-core/ingestion"
	"github.com/aerie/mission-core/logging"
	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/models"
	"github.com/aerie/mission-core/ranking"
	"github.com/aerie/mission-core/report"
)

// ErrDetectionFailed wraps every failure of the detection provider.
var ErrDetectionFailed = errors.New("detection failed")

// Store persists missions.
type Store interface {
	SaveMission(ctx context.Context, m *mission.State) error
	LoadAll(ctx context.Context) ([]*mission.State, error)
	DeleteMission(ctx context.Context, id string) error
}

// Publisher streams the normalized detections of a mission run.
type Publisher interface {
	PublishDetections(ctx context.Context, missionID string, detections []models.Detection) error
}

// Notifier receives every mission status change.
type Notifier interface {
	NotifyStatus(status mission.Status)
}

// Options wires the optional collaborators of a MissionService. Nil fields
// are skipped.
type Options struct {
	Store      Store
	Publisher  Publisher
	Notifier   Notifier
	TopTargets int
	Logger     *slog.Logger
}

type MissionService struct {
	registry   *mission.Registry
	provider   inference.Provider
	store      Store
	publisher  Publisher
	notifier   Notifier
	topTargets int
	logger     *slog.Logger
}

func NewMissionService(registry *mission.Registry, provider inference.Provider, opts Options) *MissionService {
	if opts.TopTargets <= 0 {
		opts.TopTargets = ranking.DefaultTargetCount
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger()
	}
	return &MissionService{
		registry:   registry,
		provider:   provider,
		store:      opts.Store,
		publisher:  opts.Publisher,
		notifier:   opts.Notifier,
		topTargets: opts.TopTargets,
		logger:     opts.Logger.With("component", "service"),
	}
}

// TopTargets is the number of detections handed to the UAVs.
func (s *MissionService) TopTargets() int { return s.topTargets }

// Warm loads every persisted mission into the registry.
func (s *MissionService) Warm(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	missions, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load missions: %w", err)
	}
	for _, m := range missions {
		s.registry.Put(m)
	}
	return len(missions), nil
}

func (s *MissionService) Create(ctx context.Context) mission.Status {
	m := s.registry.Create()
	s.logger.InfoContext(ctx, "mission created", "mission_id", m.ID())
	s.commit(ctx, m)
	return m.Status()
}

func (s *MissionService) Get(id string) (*mission.State, error) {
	return s.registry.Get(id)
}

// Status returns the current status of a mission.
func (s *MissionService) Status(id string) (mission.Status, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return mission.Status{}, err
	}
	return m.Status(), nil
}

func (s *MissionService) List() []mission.Status {
	return s.registry.List()
}

// Delete drops a mission from memory and from the store.
func (s *MissionService) Delete(ctx context.Context, id string) error {
	if _, err := s.registry.Get(id); err != nil {
		return err
	}
	s.registry.Remove(id)
	if s.store != nil {
		if err := s.store.DeleteMission(ctx, id); err != nil {
			return fmt.Errorf("delete mission %s: %w", id, err)
		}
	}
	s.logger.InfoContext(ctx, "mission deleted", "mission_id", id)
	return nil
}

// AttachImage registers the uploaded image and deploys the VTOLs.
func (s *MissionService) AttachImage(ctx context.Context, id, imageRef string) (mission.Status, error) {
	return s.step(ctx, id, "image attached", func(m *mission.State) error {
		return m.AttachImage(imageRef)
	})
}

// Scan completes the VTOL sweep.
func (s *MissionService) Scan(ctx context.Context, id string) (mission.Status, error) {
	return s.step(ctx, id, "scan complete", (*mission.State).CompleteScan)
}

// Detect runs the model on the mission image, normalizes the response and
// records the ranked detections. When the provider fails the mission keeps
// its stage and previous detections.
func (s *MissionService) Detect(ctx context.Context, id string) ([]models.Detection, mission.Status, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, mission.Status{}, err
	}
	if stage := m.Stage(); stage != mission.StageDetection {
		return nil, m.Status(), fmt.Errorf("%w: mission is at %q, expected %q",
			mission.ErrInvalidTransition, stage, mission.StageDetection)
	}
	imageRef := m.ImageRef()
	if imageRef == "" {
		return nil, m.Status(), mission.ErrNoImage
	}

	raw, err := s.provider.Infer(ctx, imageRef)
	if err != nil {
		s.logger.ErrorContext(ctx, "inference failed", logging.Err(err), "mission_id", id, "image", imageRef)
		return nil, m.Status(), fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	detections, err := ingestion.Normalize(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "unusable inference response", logging.Err(err), "mission_id", id)
		return nil, m.Status(), err
	}

	if err := m.RecordDetectionsFor(imageRef, detections); err != nil {
		return nil, m.Status(), err
	}

	s.logger.InfoContext(ctx, "detections recorded",
		"mission_id", id,
		"detections", len(detections),
		"classes", ranking.DistinctClasses(detections),
		"average_confidence", ranking.AverageConfidence(detections))

	s.commit(ctx, m)
	if s.publisher != nil && len(detections) > 0 {
		if err := s.publisher.PublishDetections(ctx, id, detections); err != nil {
			s.logger.ErrorContext(ctx, "publish detections failed", logging.Err(err), "mission_id", id)
		}
	}
	return detections, m.Status(), nil
}

// Analyze hands the detections to the ground control station.
func (s *MissionService) Analyze(ctx context.Context, id string) (mission.Status, error) {
	return s.step(ctx, id, "analysis complete", (*mission.State).Analyze)
}

// Deploy assigns the top targets to UAVs. With nothing to assign the mission
// is sent back to the start and mission.ErrNoTargets is returned.
func (s *MissionService) Deploy(ctx context.Context, id string) ([]models.Detection, mission.Status, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, mission.Status{}, err
	}

	targets, err := m.DeployUAVs(s.topTargets)
	if errors.Is(err, mission.ErrNoTargets) {
		s.logger.WarnContext(ctx, "no targets to deploy, mission restarted", "mission_id", id)
		s.commit(ctx, m)
		return nil, m.Status(), err
	}
	if err != nil {
		return nil, m.Status(), err
	}

	s.logger.InfoContext(ctx, "uavs deployed", "mission_id", id, "targets", len(targets))
	s.commit(ctx, m)
	return targets, m.Status(), nil
}

// Deliver marks the relief delivery as complete.
func (s *MissionService) Deliver(ctx context.Context, id string) (mission.Status, error) {
	return s.step(ctx, id, "delivery complete", (*mission.State).CompleteDelivery)
}

// Reset returns the mission to the start.
func (s *MissionService) Reset(ctx context.Context, id string) (mission.Status, error) {
	return s.step(ctx, id, "mission reset", func(m *mission.State) error {
		m.Reset()
		return nil
	})
}

// Report builds the analytics report of a mission.
func (s *MissionService) Report(id string) (*report.Report, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return report.Build(m, s.topTargets), nil
}

func (s *MissionService) step(ctx context.Context, id, msg string, fn func(*mission.State) error) (mission.Status, error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return mission.Status{}, err
	}
	if err := fn(m); err != nil {
		return m.Status(), err
	}
	status := m.Status()
	s.logger.InfoContext(ctx, msg, "mission_id", id, "stage", status.StageName)
	s.commit(ctx, m)
	return m.Status(), nil
}

// commit persists m and pushes its status. Store failures are logged; the
// in-memory mission stays authoritative.
func (s *MissionService) commit(ctx context.Context, m *mission.State) {
	if s.store != nil {
		if err := s.store.SaveMission(ctx, m); err != nil {
			s.logger.ErrorContext(ctx, "save mission failed", logging.Err(err), "mission_id", m.ID())
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyStatus(m.Status())
	}
}
