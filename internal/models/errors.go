package models

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound         = status.Errorf(codes.NotFound, "not found")
	ErrPermissionDenied = status.Errorf(codes.PermissionDenied, "permission denied")
	ErrInvalidArgument  = status.Errorf(codes.InvalidArgument, "invalid argument")
)
