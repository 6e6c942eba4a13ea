package notes

import (
	"context"
	"strings"
)

// SearchOptions selects the matching mode for a body search.
type SearchOptions struct {
	NoteFileID    int64
	ArchiveID     int
	Text          string
	CaseSensitive bool
	WholeWords    bool
}

// Search scans the active bodies of a file and archive and returns the
// matching headers in thread order. Whole-word matching pads both needle and
// haystack with spaces, so it finds words bounded by whitespace.
func (s *Service) Search(ctx context.Context, opts SearchOptions) ([]NoteHeader, error) {
	needle := strings.TrimSpace(opts.Text)
	if needle == "" {
		return nil, nil
	}
	if opts.WholeWords {
		needle = " " + needle + " "
	}
	if !opts.CaseSensitive {
		needle = strings.ToLower(needle)
	}

	var headers []NoteHeader
	err := s.db.WithContext(ctx).
		Where("note_file_id = ? AND archive_id = ? AND is_deleted = ? AND version = 0",
			opts.NoteFileID, opts.ArchiveID, false).
		Order("note_ordinal, response_ordinal").
		Find(&headers).Error
	if err != nil {
		return nil, newServiceError(opSearch, "header_query_failed", err)
	}
	if len(headers) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(headers))
	for _, header := range headers {
		ids = append(ids, header.ID)
	}
	var contents []NoteContent
	if err := s.db.WithContext(ctx).Where("note_header_id IN ?", ids).Find(&contents).Error; err != nil {
		return nil, newServiceError(opSearch, "content_query_failed", err)
	}
	bodies := make(map[int64]string, len(contents))
	for _, content := range contents {
		bodies[content.NoteHeaderID] = content.NoteBody
	}

	var matches []NoteHeader
	for _, header := range headers {
		haystack := bodies[header.ID]
		if opts.WholeWords {
			haystack = " " + haystack + " "
		}
		if !opts.CaseSensitive {
			haystack = strings.ToLower(haystack)
		}
		if strings.Contains(haystack, needle) {
			matches = append(matches, header)
		}
	}
	return matches, nil
}
