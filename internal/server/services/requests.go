package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/go-playground/validator/v10"
)

// StoreRequest describes a new document. Content is the plaintext.
type StoreRequest struct {
	Content    []byte
	Title      string `validate:"required,max=255"`
	Filename   string `validate:"required,max=255"`
	MimeType   string `validate:"required,max=127"`
	CaseID     *int64 `validate:"omitempty,gt=0"`
	CategoryID *int64 `validate:"omitempty,gt=0"`
}

// VersionRequest supersedes ParentID with new content. Title, case and
// category are taken from the parent.
type VersionRequest struct {
	ParentID int64 `validate:"required,gt=0"`
	Content  []byte
	Filename string `validate:"required,max=255"`
	MimeType string `validate:"required,max=127"`
}

// ShareRequest describes a grant. Empty Permissions means view and download.
type ShareRequest struct {
	DocumentID   int64               `validate:"required,gt=0"`
	GranteeID    *int64              `validate:"omitempty,gt=0"`
	GranteeEmail string              `validate:"omitempty,email,max=254"`
	Permissions  []models.Permission `validate:"dive,oneof=view download sign"`
	MaxDownloads *int                `validate:"omitempty,gt=0"`
	ExpiresAt    *time.Time
	RequiresAuth bool
}

var defaultPermissions = []models.Permission{models.PermissionView, models.PermissionDownload}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// validateRequest runs struct tags and turns the first failure into a
// readable validation error.
func validateRequest(v *validator.Validate, op string, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("%s failed on %q", strings.ToLower(fe.Field()), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return common.Wrap(op, common.ErrValidation, errors.New(msg))
	}
	return common.Wrap(op, common.ErrValidation, err)
}

func normalizePermissions(in []models.Permission) []models.Permission {
	if len(in) == 0 {
		return append([]models.Permission(nil), defaultPermissions...)
	}
	out := make([]models.Permission, 0, len(in))
	seen := make(map[models.Permission]struct{}, len(in))
	for _, p := range in {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
