package types

// SyncStatus is the per-workspace sync state of a repository link.
type SyncStatus string

const (
	// SyncStatusNeedsSync indicates the repository has not been synced yet,
	// or a hook reported upstream changes since the last sync.
	SyncStatusNeedsSync SyncStatus = "NeedsSync"

	// SyncStatusInSync indicates the working copy matches its upstream.
	SyncStatusInSync SyncStatus = "InSync"

	// SyncStatusNotCloned indicates the repository is not present on disk.
	SyncStatusNotCloned SyncStatus = "NotCloned"

	// SyncStatusVersionMismatch indicates the calculated version differs
	// from the version recorded on the link.
	SyncStatusVersionMismatch SyncStatus = "VersionMismatch"

	// SyncStatusError indicates the last sync attempt failed.
	SyncStatusError SyncStatus = "Error"
)

// ConnectorKind distinguishes the external systems a Connector can reach.
type ConnectorKind string

const (
	ConnectorKindVcsHost         ConnectorKind = "VcsHost"
	ConnectorKindPackageRegistry ConnectorKind = "PackageRegistry"
)

// ConnectorStatus is the last probed state of a Connector.
type ConnectorStatus string

const (
	ConnectorStatusUnknown ConnectorStatus = "Unknown"
	ConnectorStatusOk      ConnectorStatus = "Ok"
	ConnectorStatusError   ConnectorStatus = "Error"
)

// ProjectKind classifies a project descriptor found in a repository.
type ProjectKind string

const (
	ProjectKindExecutable ProjectKind = "Executable"
	ProjectKindTest       ProjectKind = "Test"
	ProjectKindService    ProjectKind = "Service"
	ProjectKindPackage    ProjectKind = "Package"
	ProjectKindLibrary    ProjectKind = "Library"
)

// KnownProjectKind reports whether k is one of the recognized kinds.
func KnownProjectKind(k ProjectKind) bool {
	switch k {
	case ProjectKindExecutable, ProjectKindTest, ProjectKindService, ProjectKindPackage, ProjectKindLibrary:
		return true
	}
	return false
}
