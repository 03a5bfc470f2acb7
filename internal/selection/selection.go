// Package selection implements the flow that turns a locator string
// into a tracking record: parse, resolve, pick the artifact, check for
// conflicts, create. The flow pauses whenever it needs user input and
// resumes from where it stopped.
package selection

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"

	"plugtrack/internal/forge"
	"plugtrack/internal/installer"
	"plugtrack/internal/locator"
	"plugtrack/internal/manifest"
	"plugtrack/internal/tracker"
)

// AbortReason explains why a flow terminated without creating a record.
type AbortReason string

const (
	ReasonInvalidLocator                     AbortReason = "invalid_locator"
	ReasonResolutionFailed                   AbortReason = "resolution_failed"
	ReasonPrimaryFamilyRequiresChangeRequest AbortReason = "primary_family_requires_change_request"
	ReasonNoArtifactsFound                   AbortReason = "no_artifacts_found"
	ReasonManifestNotFound                   AbortReason = "manifest_not_found"
	ReasonAlreadyConfiguredSameResource      AbortReason = "already_configured_same_resource"
	ReasonAlreadyConfiguredDifferentResource AbortReason = "already_configured_different_resource"
	ReasonUserCancelled                      AbortReason = "user_cancelled"
)

// Step names the input a paused flow is waiting for.
type Step string

const (
	StepSelectArtifact   Step = "select_artifact"
	StepConfirmOverwrite Step = "confirm_overwrite"
)

// Outcome is the result of driving a flow: exactly one of Aborted,
// NeedsInput, or Created.
type Outcome interface{ outcome() }

// Aborted means the flow terminated and will not produce a record.
type Aborted struct {
	Reason AbortReason
	Detail string
}

// NeedsInput means the flow paused; drive it on with Resume or Confirm.
type NeedsInput struct {
	Step       Step
	Candidates []string
}

// Created carries the new tracking record.
type Created struct {
	Record *tracker.TrackedArtifact
}

func (Aborted) outcome()    {}
func (NeedsInput) outcome() {}
func (Created) outcome()    {}

// Forge is the remote surface the flow needs.
type Forge interface {
	Resolve(ctx context.Context, parsed locator.Parsed) (*forge.Resolved, error)
	ChangedArtifacts(ctx context.Context, owner, repo string, number int) ([]string, error)
	DirectoryListing(ctx context.Context, owner, repo, path, ref string) ([]forge.DirEntry, error)
	FileContent(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Flows creates selection flows sharing one conflict-check lock set.
type Flows struct {
	forge          Forge
	store          *tracker.Store
	installer      *installer.Installer
	primaryRepo    string
	componentsRoot string
	logger         *slog.Logger
	locks          *keyedMutex
}

// Options configures a Flows factory.
type Options struct {
	Forge          Forge
	Store          *tracker.Store
	Installer      *installer.Installer
	PrimaryRepo    string
	ComponentsRoot string
	Logger         *slog.Logger
}

// NewFlows creates a flow factory.
func NewFlows(opts Options) *Flows {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Flows{
		forge:          opts.Forge,
		store:          opts.Store,
		installer:      opts.Installer,
		primaryRepo:    opts.PrimaryRepo,
		componentsRoot: opts.ComponentsRoot,
		logger:         logger,
		locks:          newKeyedMutex(),
	}
}

// Flow is one in-progress selection. Not safe for concurrent use; the
// conflict check itself is serialized across flows per artifact id.
type Flow struct {
	flows     *Flows
	raw       string
	overwrite bool
	restart   bool

	parsed   locator.Parsed
	resolved *forge.Resolved

	candidates []string
	artifact   string
	name       string
	paused     Step
}

// New begins a flow for the given locator string.
func (f *Flows) New(rawLocator string, overwrite, restart bool) *Flow {
	return &Flow{flows: f, raw: rawLocator, overwrite: overwrite, restart: restart}
}

// Run drives the flow to its first pause or terminal outcome.
func (s *Flow) Run(ctx context.Context) Outcome {
	parsed, err := locator.Parse(s.raw, s.flows.primaryRepo)
	if err != nil {
		return Aborted{Reason: ReasonInvalidLocator, Detail: err.Error()}
	}
	s.parsed = parsed

	resolved, err := s.flows.forge.Resolve(ctx, parsed)
	if err != nil {
		return Aborted{Reason: ReasonResolutionFailed, Detail: err.Error()}
	}
	s.resolved = resolved

	if resolved.IsPrimary {
		return s.runPrimary(ctx)
	}
	return s.runExternal(ctx)
}

// Resume continues a flow paused at select_artifact with the chosen
// candidate.
func (s *Flow) Resume(ctx context.Context, choice string) Outcome {
	if s.paused != StepSelectArtifact {
		return Aborted{Reason: ReasonUserCancelled, Detail: "flow is not waiting for a selection"}
	}
	valid := false
	for _, c := range s.candidates {
		if c == choice {
			valid = true
			break
		}
	}
	if !valid {
		return NeedsInput{Step: StepSelectArtifact, Candidates: s.candidates}
	}
	s.paused = ""
	s.artifact = choice
	s.name = s.primaryDisplayName(ctx, choice)
	return s.finish(ctx)
}

// Confirm continues a flow paused at confirm_overwrite.
func (s *Flow) Confirm(ctx context.Context, ok bool) Outcome {
	if s.paused != StepConfirmOverwrite {
		return Aborted{Reason: ReasonUserCancelled, Detail: "flow is not waiting for a confirmation"}
	}
	s.paused = ""
	if !ok {
		return Aborted{Reason: ReasonUserCancelled}
	}
	s.overwrite = true
	return s.finish(ctx)
}

// runPrimary handles references into the primary family: only change
// requests carry a reviewable artifact diff.
func (s *Flow) runPrimary(ctx context.Context) Outcome {
	if s.parsed.Kind != locator.KindChangeRequest {
		return Aborted{
			Reason: ReasonPrimaryFamilyRequiresChangeRequest,
			Detail: fmt.Sprintf("%s references into %s need a pull request", s.parsed.Kind, s.flows.primaryRepo),
		}
	}

	number := s.resolved.PR.Number
	artifacts, err := s.flows.forge.ChangedArtifacts(ctx, s.parsed.Owner, s.parsed.Repo, number)
	if err != nil {
		return Aborted{Reason: ReasonResolutionFailed, Detail: err.Error()}
	}
	if len(artifacts) == 0 {
		return Aborted{
			Reason: ReasonNoArtifactsFound,
			Detail: fmt.Sprintf("PR #%d changes no files under %s/", number, s.flows.componentsRoot),
		}
	}
	if len(artifacts) > 1 {
		s.candidates = artifacts
		s.paused = StepSelectArtifact
		return NeedsInput{Step: StepSelectArtifact, Candidates: artifacts}
	}

	s.artifact = artifacts[0]
	s.name = s.primaryDisplayName(ctx, s.artifact)
	return s.finish(ctx)
}

// runExternal handles standalone plugin repositories: walk the remote
// plugins directory and take the first entry with a valid descriptor.
func (s *Flow) runExternal(ctx context.Context) Outcome {
	entries, err := s.flows.forge.DirectoryListing(ctx,
		s.parsed.Owner, s.parsed.Repo, installer.PluginsDir, s.resolved.Revision)
	if err != nil {
		return Aborted{Reason: ReasonManifestNotFound, Detail: err.Error()}
	}

	for _, entry := range entries {
		if entry.Type != "dir" {
			continue
		}
		descriptorPath := path.Join(installer.PluginsDir, entry.Name, manifest.FileName)
		content, err := s.flows.forge.FileContent(ctx, s.parsed.Owner, s.parsed.Repo, descriptorPath, s.resolved.Revision)
		if err != nil {
			s.flows.logger.Debug("descriptor unreadable", "dir", entry.Name, "error", err)
			continue
		}
		m, err := manifest.Parse([]byte(content), entry.Name)
		if err != nil {
			s.flows.logger.Debug("descriptor invalid", "dir", entry.Name, "error", err)
			continue
		}
		s.artifact = m.ID
		s.name = m.Name
		return s.finish(ctx)
	}

	return Aborted{
		Reason: ReasonManifestNotFound,
		Detail: fmt.Sprintf("no directory under %s/ carries a valid %s", installer.PluginsDir, manifest.FileName),
	}
}

// finish runs the conflict checks and creates the record.
func (s *Flow) finish(ctx context.Context) Outcome {
	if outcome := s.checkConflict(); outcome != nil {
		return outcome
	}

	// A foreign directory at the target needs explicit consent before
	// it is replaced. Our own marker means we put it there.
	if !s.overwrite && s.flows.installer.Exists(s.artifact) && !s.flows.installer.HasMarker(s.artifact) {
		s.paused = StepConfirmOverwrite
		return NeedsInput{Step: StepConfirmOverwrite, Candidates: []string{s.artifact}}
	}

	return s.create()
}

// checkConflict returns a terminal outcome when the artifact is already
// tracked, nil otherwise.
func (s *Flow) checkConflict() Outcome {
	s.flows.locks.lock(s.artifact)
	defer s.flows.locks.unlock(s.artifact)

	existing, err := s.flows.store.GetByArtifact(s.artifact)
	if err == tracker.ErrNotFound {
		return nil
	}
	if err != nil {
		return Aborted{Reason: ReasonResolutionFailed, Detail: err.Error()}
	}
	if s.sameResource(existing) {
		return Aborted{
			Reason: ReasonAlreadyConfiguredSameResource,
			Detail: fmt.Sprintf("%s is already tracked from this repository", s.artifact),
		}
	}
	return Aborted{
		Reason: ReasonAlreadyConfiguredDifferentResource,
		Detail: fmt.Sprintf("%s is already tracked from %s (%s)", s.artifact, existing.LocatorURL, existing.RefDescriptor()),
	}
}

func (s *Flow) create() Outcome {
	record := &tracker.TrackedArtifact{
		ID:         uuid.New().String(),
		LocatorURL: s.parsed.RepoURL(),
		Kind:       s.parsed.Kind,
		RefValue:   s.parsed.Value,
		ArtifactID: s.artifact,
		Primary:    s.resolved.IsPrimary,
		// Surfaced once by the initial install, then cleared.
		RestartRequested: s.restart,
	}
	record.Title = fmt.Sprintf("%s (%s)", s.name, record.RefDescriptor())

	s.flows.locks.lock(s.artifact)
	defer s.flows.locks.unlock(s.artifact)

	if err := s.flows.store.Save(record); err != nil {
		if err == tracker.ErrDuplicateArtifact {
			return Aborted{
				Reason: ReasonAlreadyConfiguredDifferentResource,
				Detail: fmt.Sprintf("%s was tracked concurrently", s.artifact),
			}
		}
		return Aborted{Reason: ReasonResolutionFailed, Detail: err.Error()}
	}

	s.flows.logger.Info("tracking created", "artifact", s.artifact, "reference", record.RefDescriptor())
	return Created{Record: record}
}

// sameResource reports whether an existing record points at the same
// repository as this flow's locator. Classification is by normalized
// repository URL only; a different reference within the same repository
// still counts as the same resource.
func (s *Flow) sameResource(existing *tracker.TrackedArtifact) bool {
	return existing.LocatorURL == s.parsed.RepoURL()
}

// primaryDisplayName fetches the artifact's declared name from the
// primary repository, falling back to the artifact id.
func (s *Flow) primaryDisplayName(ctx context.Context, artifactID string) string {
	descriptorPath := path.Join(s.flows.componentsRoot, artifactID, manifest.FileName)
	content, err := s.flows.forge.FileContent(ctx, s.parsed.Owner, s.parsed.Repo, descriptorPath, s.resolved.Revision)
	if err != nil {
		return artifactID
	}
	m, err := manifest.Parse([]byte(content), artifactID)
	if err != nil {
		return artifactID
	}
	return m.Name
}

// keyedMutex serializes critical sections per artifact id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

func (k *keyedMutex) unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()
	m.Unlock()
}
