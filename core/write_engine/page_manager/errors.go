package pagemanager

import "errors"

var (
	ErrRefNotFound       = errors.New("ref not found in tree")
	ErrPageNotResident   = errors.New("page is not resident in memory")
	ErrPageResident      = errors.New("page is already resident in memory")
	ErrParentNotResident = errors.New("parent page is not resident in memory")
	ErrNotLeaf           = errors.New("operation requires a leaf page")
	ErrNotInternal       = errors.New("operation requires an internal page")
	ErrPageDirty         = errors.New("page has unreconciled updates")
	ErrPagePinned        = errors.New("page is pinned and cannot be evicted")
	ErrChildrenResident  = errors.New("page has resident children that cannot be merged")
)
