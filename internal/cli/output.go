package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

type documentView struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Title       string    `json:"title"`
	Filename    string    `json:"filename"`
	MimeType    string    `json:"mime_type"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
	Version     int       `json:"version"`
	ParentID    *int64    `json:"parent_version_id,omitempty"`
	Status      string    `json:"status"`
	OwnerID     int64     `json:"owner_id"`
	CaseID      *int64    `json:"case_id,omitempty"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewDocument(d *models.Document) documentView {
	return documentView{
		ID:          d.ID,
		UUID:        d.UUID,
		Title:       d.Title,
		Filename:    d.OriginalFilename,
		MimeType:    d.MimeType,
		Size:        d.FileSize,
		ContentHash: d.ContentHash,
		Version:     d.Version,
		ParentID:    d.ParentVersionID,
		Status:      string(d.Status),
		OwnerID:     d.OwnerID,
		CaseID:      d.CaseID,
		CategoryID:  d.CategoryID,
		CreatedAt:   d.CreatedAt,
	}
}

// grantView never carries the token or key material.
type grantView struct {
	ID            int64      `json:"id"`
	DocumentID    int64      `json:"document_id"`
	GranteeID     *int64     `json:"grantee_id,omitempty"`
	GranteeEmail  string     `json:"grantee_email,omitempty"`
	Permissions   []string   `json:"permissions"`
	MaxDownloads  *int       `json:"max_downloads,omitempty"`
	DownloadCount int        `json:"download_count"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	RequiresAuth  bool       `json:"requires_auth"`
	Revoked       bool       `json:"revoked"`
	CreatedAt     time.Time  `json:"created_at"`
}

func viewGrant(g *models.Grant) grantView {
	perms := make([]string, len(g.Permissions))
	for i, p := range g.Permissions {
		perms[i] = string(p)
	}
	return grantView{
		ID:            g.ID,
		DocumentID:    g.DocumentID,
		GranteeID:     g.GranteeID,
		GranteeEmail:  g.GranteeEmail,
		Permissions:   perms,
		MaxDownloads:  g.MaxDownloads,
		DownloadCount: g.DownloadCount,
		ExpiresAt:     g.ExpiresAt,
		RequiresAuth:  g.RequiresAuth,
		Revoked:       g.IsRevoked,
		CreatedAt:     g.CreatedAt,
	}
}

func writeDocuments(w io.Writer, docs []*models.Document, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tSTATUS\tSIZE\tTITLE\tFILENAME")
	for _, d := range docs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\t%s\n", d.ID, d.Version, d.Status, d.FileSize, d.Title, d.OriginalFilename)
	}
	if total >= 0 {
		fmt.Fprintf(tw, "\n%d of %d\n", len(docs), total)
	}
	return tw.Flush()
}

func writeGrants(w io.Writer, grants []*models.Grant) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGRANTEE\tPERMISSIONS\tDOWNLOADS\tEXPIRES")
	for _, g := range grants {
		v := viewGrant(g)
		grantee := v.GranteeEmail
		if v.GranteeID != nil {
			grantee = fmt.Sprintf("#%d", *v.GranteeID)
		}
		if grantee == "" {
			grantee = "-"
		}
		downloads := fmt.Sprintf("%d", v.DownloadCount)
		if v.MaxDownloads != nil {
			downloads += fmt.Sprintf("/%d", *v.MaxDownloads)
		}
		expires := "-"
		if v.ExpiresAt != nil {
			expires = v.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", v.ID, grantee, strings.Join(v.Permissions, ","), downloads, expires)
	}
	return tw.Flush()
}

func writeTrail(w io.Writer, entries []*models.AuditEntry, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tACTION\tACTOR\tIP\tHASH")
	for _, e := range entries {
		who := "-"
		if e.ActorID != nil {
			who = fmt.Sprintf("%d", *e.ActorID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Action, who, e.ActorIP, e.HashChain[:min(12, len(e.HashChain))])
	}
	fmt.Fprintf(tw, "\n%d of %d\n", len(entries), total)
	return tw.Flush()
}
