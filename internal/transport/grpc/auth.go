package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"physiodesk/backend/internal/auth"
	"physiodesk/backend/internal/domain"
)

const authorizationMetadataKey = "authorization"

// AuthInterceptor verifies the bearer token in the authorization metadata
// and stores the caller identity in the context.
func AuthInterceptor(a *auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(authorizationMetadataKey); len(vals) > 0 {
				header = vals[0]
			}
		}
		token, err := auth.BearerToken(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		identity, err := a.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithIdentity(ctx, identity), req)
	}
}

// caller returns the authenticated identity. ok is false when the server
// runs without authentication.
func (s *BookingServer) caller(ctx context.Context) (auth.Identity, bool, error) {
	if !s.authEnabled {
		return auth.Identity{}, false, nil
	}
	identity, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Identity{}, false, status.Error(codes.Unauthenticated, "authentication required")
	}
	return identity, true, nil
}

func (s *BookingServer) requireStaff(ctx context.Context) error {
	identity, ok, err := s.caller(ctx)
	if err != nil || !ok {
		return err
	}
	if !identity.HasRole(auth.Staff...) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

func (s *BookingServer) requireActsFor(ctx context.Context, id string) error {
	identity, ok, err := s.caller(ctx)
	if err != nil || !ok {
		return err
	}
	if !identity.ActsFor(id) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

// requireParty checks the caller is a party to the appointment. Without
// authentication it does not touch the store.
func (s *BookingServer) requireParty(ctx context.Context, log *slog.Logger, appointmentID string) error {
	identity, ok, err := s.caller(ctx)
	if err != nil || !ok {
		return err
	}
	appt, err := s.svc.GetAppointment(ctx, appointmentID)
	if err != nil {
		return s.statusError(log, "appointment get failed", err, slog.String("appointment_id", appointmentID))
	}
	if !identity.CanAccess(appt) {
		return status.Error(codes.PermissionDenied, "not a party to this appointment")
	}
	return nil
}

// requireBlockOwner checks the caller manages the calendar the block is on.
func (s *BookingServer) requireBlockOwner(ctx context.Context, log *slog.Logger, blockID string) error {
	if _, ok, err := s.caller(ctx); err != nil || !ok {
		return err
	}
	block, err := s.svc.GetBlockedTimeSlot(ctx, blockID)
	if err != nil {
		return s.statusError(log, "blocked slot get failed", err, slog.String("block_id", blockID))
	}
	return s.requireActsFor(ctx, block.PhysiotherapistID)
}

// bookingUser resolves the user a create is for. Users book for themselves
// and default to their own id.
func (s *BookingServer) bookingUser(ctx context.Context, requested string) (string, error) {
	identity, ok, err := s.caller(ctx)
	if err != nil || !ok || identity.Role != domain.RoleUser {
		return requested, err
	}
	if requested == "" {
		return identity.ID, nil
	}
	if requested != identity.ID {
		return "", status.Error(codes.PermissionDenied, "users may only book for themselves")
	}
	return requested, nil
}
