package core

import (
	"context"
)

// LinkClassifier turns a raw link into a LinkDescriptor. Pure; no I/O.
type LinkClassifier interface {
	Classify(link string) (LinkDescriptor, error)
}

// Resolver is the capability interface every platform variant implements.
// Callers never branch on platform; the registry selects the variant from
// the LinkDescriptor tag.
type Resolver interface {
	Platform() Platform

	// Expand lists the track references behind a link in platform-declared
	// order, plus the collection title (track title for kind=track).
	Expand(ctx context.Context, link LinkDescriptor, creds CredentialContext) ([]TrackRef, string, error)

	// ResolveTrack fetches full metadata and the ordered set of available
	// quality descriptors for one track.
	ResolveTrack(ctx context.Context, ref TrackRef, creds CredentialContext) (*TrackMetadata, []QualityDescriptor, error)

	// StreamRequest produces the signed transfer descriptor for a chosen
	// quality, consumed by the fetch engine.
	StreamRequest(ctx context.Context, ref TrackRef, q QualityDescriptor, creds CredentialContext) (*AssetRequest, error)
}

// ResolverRegistry selects the resolver variant for a platform tag.
type ResolverRegistry interface {
	For(p Platform) (Resolver, bool)
}

// QualitySelector picks the descriptor to download.
type QualitySelector interface {
	Select(available []QualityDescriptor, ceiling Tier, entitled bool) (QualityDescriptor, error)
	// SelectBelow re-selects one tier below a descriptor that could not be
	// served, per the QualityUnavailable recovery path.
	SelectBelow(available []QualityDescriptor, failed QualityDescriptor, entitled bool) (QualityDescriptor, error)
}

// AssetFetcher streams the audio payload for a chosen quality to destPath.
type AssetFetcher interface {
	Fetch(ctx context.Context, src Resolver, ref TrackRef, q QualityDescriptor, creds CredentialContext, destPath string) (int64, error)
}

// MetadataWriter embeds tags, cover art and lyrics into the container at
// path. Returned warnings are non-fatal (e.g. a skipped cover).
type MetadataWriter interface {
	Embed(ctx context.Context, path string, meta *TrackMetadata, container Container) ([]string, error)
}

// DeliveryResult reports where a sink placed a finished file.
type DeliveryResult struct {
	Path string
	Size int64
}

// Sink receives a finished, tagged audio file.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, srcPath, relPath string) (DeliveryResult, error)
}

// HistoryStore records job outcomes and serves status reads. Writes are
// serialized by the implementation; records are append-only per job.
type HistoryStore interface {
	CreateJob(job *DownloadJob) error
	UpdateTrack(jobID string, track *TrackJob) error
	FinishJob(job *DownloadJob) error
	GetJob(jobID string) (*DownloadJob, error)
	ListJobs(limit, offset int) ([]*DownloadJob, error)
	DeliveredKeys() ([]string, error)
}

// DeliveredIndex answers "was this track already delivered under this
// destination" for idempotent resubmission.
type DeliveredIndex interface {
	Has(key string) bool
	Add(key string)
}

// CredentialSource hands out snapshot-consistent credential contexts.
// Refresh re-reads the backing material after an auth expiry.
type CredentialSource interface {
	Snapshot() CredentialContext
	Refresh(ctx context.Context) error
}

// RateGate caps per-platform request rates independent of worker count.
type RateGate interface {
	Acquire(ctx context.Context, p Platform) error
}

// Notifier receives the final per-batch summary. Optional collaborator.
type Notifier interface {
	NotifyBatch(ctx context.Context, summary BatchSummary)
}
