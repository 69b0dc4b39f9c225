package core

import "selectcore/pkg/domain"

type (
	RecordID            = domain.RecordID
	Schema              = domain.Schema
	FilterDescriptor    = domain.FilterDescriptor
	Constraint          = domain.Constraint
	Selection           = domain.Selection
	SelectionToken      = domain.SelectionToken
	SnapshotBasis       = domain.SnapshotBasis
	SnapshotVersion     = domain.SnapshotVersion
	BulkOperationResult = domain.BulkOperationResult
	ItemFailure         = domain.ItemFailure
	TokenStore          = domain.TokenStore
	RecordStore         = domain.RecordStore
	RecordCursor        = domain.RecordCursor
)

const (
	ModeManual = domain.ModeManual
	ModeAll    = domain.ModeAll
)

const (
	BasisLive   = domain.BasisLive
	BasisPinned = domain.BasisPinned
)

const (
	StatusCompleted           = domain.StatusCompleted
	StatusCompletedWithErrors = domain.StatusCompletedWithErrors
	StatusAborted             = domain.StatusAborted
)
