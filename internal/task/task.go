package task

import (
	"github.com/google/uuid"
)

// Language is a spoken language attached to a video variant.
type Language int

const (
	LanguageUnspecified Language = iota
	LanguageEnglish
	LanguageGerman
)

// ShortName returns the three-letter tag used in file names.
func (l Language) ShortName() string {
	switch l {
	case LanguageEnglish:
		return "Eng"
	case LanguageGerman:
		return "Ger"
	default:
		return "Und"
	}
}

// LongName returns the full language name.
func (l Language) LongName() string {
	switch l {
	case LanguageEnglish:
		return "English"
	case LanguageGerman:
		return "German"
	default:
		return "Unspecified"
	}
}

// VideoKind describes how a video relates to its language: raw source
// material, dubbed audio or subtitles.
type VideoKind int

const (
	VideoKindUnspecified VideoKind = iota
	VideoKindRaw
	VideoKindDub
	VideoKindSub
)

// VideoType couples a video kind with its language.
type VideoType struct {
	Kind     VideoKind
	Language Language
}

// IsUnspecified reports whether the video type carries no information at all,
// in which case file names omit the language suffix entirely.
func (v VideoType) IsUnspecified() bool {
	return v.Kind == VideoKindUnspecified && v.Language == LanguageUnspecified
}

func (v VideoType) String() string {
	switch v.Kind {
	case VideoKindRaw:
		return "Raw"
	case VideoKindDub:
		if v.Language == LanguageUnspecified {
			return "Dub"
		}
		return v.Language.ShortName() + "Dub"
	case VideoKindSub:
		if v.Language == LanguageUnspecified {
			return "Sub"
		}
		return v.Language.ShortName() + "Sub"
	default:
		return v.Language.LongName()
	}
}

// SeriesInfo describes the series a batch of tasks belongs to.
type SeriesInfo struct {
	Title       string
	Description string
	Year        int
}

// EpisodeNumber is either a plain number or a free-form string such as "15.5"
// for fractional episodes. Text takes precedence when set.
type EpisodeNumber struct {
	Number int
	Text   string
}

// EpisodeInfo is the per-episode metadata a series resolver provides.
type EpisodeInfo struct {
	Name                     string
	SeasonNumber             int // 0 means unknown
	EpisodeNumber            EpisodeNumber
	MaxEpisodeNumberInSeason int // 0 means unknown
}

// DownloadTask is one unit of work for the scheduler: a resolved media URL
// plus the metadata needed to name its output file. Tasks are immutable after
// creation and consumed exactly once.
type DownloadTask struct {
	ID          uuid.UUID
	EpisodeInfo EpisodeInfo
	Language    VideoType
	DownloadURL string
	Referer     string
}

// NewDownloadTask assembles a task from resolver output.
func NewDownloadTask(info EpisodeInfo, language VideoType, downloadURL, referer string) DownloadTask {
	return DownloadTask{
		ID:          uuid.New(),
		EpisodeInfo: info,
		Language:    language,
		DownloadURL: downloadURL,
		Referer:     referer,
	}
}
