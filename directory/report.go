package directory

import (
	"context"
	"log"
	"sort"

	"municonsole_back/apperr"
	"municonsole_back/authorization"

	"golang.org/x/sync/errgroup"
)

// AcceptedInvitationReport counts accepted invitations per inviting user.
// The per-user lookups run concurrently; a failed lookup is logged and
// reported as zero instead of failing the report.
func (s *Service) AcceptedInvitationReport(ctx context.Context, caller *authorization.Identity) apperr.Result {
	if !caller.IsManager() {
		return apperr.Fail(apperr.Forbidden("management role required"))
	}

	var inviters []uint64
	err := s.db.WithContext(ctx).Model(&Invitation{}).
		Distinct("invited_by").
		Order("invited_by ASC").
		Pluck("invited_by", &inviters).Error
	if err != nil {
		return apperr.Fail(apperr.Wrap(apperr.CodeInternal, "failed to load inviters", err))
	}

	rows := make([]InviterCount, len(inviters))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.reportWorkers)
	for idx, userID := range inviters {
		idx, userID := idx, userID
		rows[idx].UserID = userID
		group.Go(func() error {
			rows[idx] = s.countAccepted(groupCtx, userID)
			return nil
		})
	}
	_ = group.Wait()

	sort.SliceStable(rows, func(a, b int) bool { return rows[a].Accepted > rows[b].Accepted })
	return apperr.OK(rows)
}

func (s *Service) countAccepted(ctx context.Context, userID uint64) InviterCount {
	row := InviterCount{UserID: userID}

	if user, err := s.auth.Users().FindByID(ctx, userID); err != nil {
		log.Printf("directory: report: load user %d: %v", userID, err)
	} else {
		row.Email = user.Email
	}

	err := s.db.WithContext(ctx).Model(&Invitation{}).
		Where("invited_by = ? AND status = ?", userID, InvitationAccepted).
		Count(&row.Accepted).Error
	if err != nil {
		log.Printf("directory: report: count invitations for user %d: %v", userID, err)
		row.Accepted = 0
	}
	return row
}
