// Package plan defines study plans and the activities they schedule.
//
// A plan belongs to an organisation and is made of blocks (one per pace
// period); each block lists activities. Passage activities carry a resolved
// Bible reference produced by core/passage.
package plan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/FocuswithJustin/carry/core/errors"
	"github.com/FocuswithJustin/carry/core/passage"
)

// Pace is the length of one plan block.
type Pace string

// Pace values.
const (
	PaceDay   Pace = "day"
	PaceWeek  Pace = "week"
	PaceMonth Pace = "month"
)

// State is the editing state of a plan.
type State string

// State values.
const (
	StateDraft     State = "draft"
	StateCompleted State = "completed"
	StateBought    State = "bought"
)

// Type distinguishes quick plans from advanced plan-builder plans.
type Type string

// Type values.
const (
	TypeQuick    Type = "quick"
	TypeAdvanced Type = "advanced"
)

// ActivityType identifies the kind of an Activity.
type ActivityType string

// Activity types.
const (
	ActivityPassage  ActivityType = "passage"
	ActivityQuestion ActivityType = "question"
	ActivityAction   ActivityType = "action"
	ActivityText     ActivityType = "text"
	ActivityVideo    ActivityType = "video"
)

// Plan is an organisation study plan.
type Plan struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"orgId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Pace        Pace      `json:"pace"`
	Duration    int       `json:"duration"`
	Author      string    `json:"author,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	State       State     `json:"state"`
	Type        Type      `json:"type"`
	Version     int       `json:"version"`
	Blocks      []Block   `json:"blocks"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// Block is one pace period of a plan.
type Block struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Activities  []Activity `json:"activities"`
}

// Activity is a single step inside a block. Only the fields relevant to
// Type are set.
type Activity struct {
	Type ActivityType `json:"type"`

	// passage
	Chapter    *StudyChapter `json:"chapter,omitempty"`
	VerseRange string        `json:"verseRange,omitempty"`
	Verses     []PassageItem `json:"verses,omitempty"`

	// question
	Question string `json:"question,omitempty"`

	// action: prayer or gratitude
	ActionType string `json:"actionType,omitempty"`

	// action, text
	Text string `json:"text,omitempty"`

	// text, video
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// video
	Service  string `json:"service,omitempty"`
	VideoID  string `json:"videoId,omitempty"`
	Duration int    `json:"duration,omitempty"`

	// Error is kept on drafts so the builder can show what still needs fixing.
	Error string `json:"error,omitempty"`
}

// StudyChapter is the book and chapter a passage activity reads.
type StudyChapter struct {
	BookID        int    `json:"bookId"`
	BookName      string `json:"bookName"`
	BookAbbr      string `json:"bookAbbr"`
	ChapterID     string `json:"chapterId,omitempty"`
	ChapterNumber int    `json:"chapterNumber"`
}

// PassageItem is an inclusive verse range.
type PassageItem struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// NewPassageAct builds the passage activity for a resolved reference.
func NewPassageAct(v passage.Verse) Activity {
	return Activity{
		Type:       ActivityPassage,
		VerseRange: fmt.Sprintf("%d-%d", v.VerseFrom, v.VerseTo),
		Verses:     []PassageItem{{From: v.VerseFrom, To: v.VerseTo}},
		Chapter: &StudyChapter{
			BookID:        v.BookID,
			BookName:      v.BookName,
			BookAbbr:      v.BookAbbr,
			ChapterNumber: v.ChapterNumber,
		},
	}
}

// PassageString renders a passage activity as "John 3:16-18".
// It returns "" for activities without a chapter.
func PassageString(act Activity) string {
	if act.Chapter == nil {
		return ""
	}
	return fmt.Sprintf("%s %d:%s", act.Chapter.BookName, act.Chapter.ChapterNumber, act.VerseRange)
}

// FormatVerseRange joins verse ranges as "1, 4 - 7, 12".
func FormatVerseRange(items []PassageItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.From == it.To {
			parts = append(parts, strconv.Itoa(it.From))
		} else {
			parts = append(parts, fmt.Sprintf("%d - %d", it.From, it.To))
		}
	}
	return strings.Join(parts, ", ")
}

// Describe returns the one-line summary the builder shows for an activity.
func Describe(act Activity) string {
	switch act.Type {
	case ActivityPassage:
		return PassageString(act)
	case ActivityQuestion:
		return act.Question
	case ActivityAction:
		return act.Text
	case ActivityText, ActivityVideo:
		return act.Title
	}
	return ""
}

// AddActivity appends act to the block at index.
func (p *Plan) AddActivity(index int, act Activity) error {
	if index < 0 || index >= len(p.Blocks) {
		return errors.NewNotFound("block", strconv.Itoa(index))
	}
	p.Blocks[index].Activities = append(p.Blocks[index].Activities, act)
	return nil
}

// Validate checks the plan's fields and every activity.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.NewValidation("name", "must not be empty")
	}
	switch p.Pace {
	case PaceDay, PaceWeek, PaceMonth:
	default:
		return errors.NewValidation("pace", fmt.Sprintf("unknown pace %q", p.Pace))
	}
	switch p.State {
	case StateDraft, StateCompleted, StateBought:
	default:
		return errors.NewValidation("state", fmt.Sprintf("unknown state %q", p.State))
	}
	switch p.Type {
	case TypeQuick, TypeAdvanced:
	default:
		return errors.NewValidation("type", fmt.Sprintf("unknown type %q", p.Type))
	}
	if p.Duration < 0 {
		return errors.NewValidation("duration", "must not be negative")
	}

	for i, b := range p.Blocks {
		for j, act := range b.Activities {
			if err := validateActivity(act); err != nil {
				return errors.Wrapf(err, "block %d activity %d", i, j)
			}
		}
	}
	return nil
}

func validateActivity(act Activity) error {
	switch act.Type {
	case ActivityPassage:
		if act.Chapter == nil {
			return errors.NewValidation("chapter", "passage activity has no chapter")
		}
		for _, it := range act.Verses {
			if it.From < 1 || it.To < it.From {
				return errors.NewValidation("verses", fmt.Sprintf("invalid range %d-%d", it.From, it.To))
			}
		}
	case ActivityQuestion:
		if strings.TrimSpace(act.Question) == "" {
			return errors.NewValidation("question", "must not be empty")
		}
	case ActivityAction:
		if act.ActionType != "prayer" && act.ActionType != "gratitude" {
			return errors.NewValidation("actionType", fmt.Sprintf("unknown action %q", act.ActionType))
		}
	case ActivityText, ActivityVideo:
	default:
		return errors.NewValidation("type", fmt.Sprintf("unknown activity type %q", act.Type))
	}
	return nil
}

// New returns a draft advanced plan with duration empty blocks.
func New(name string, pace Pace, duration int) *Plan {
	p := &Plan{
		Name:     name,
		Pace:     pace,
		Duration: duration,
		State:    StateDraft,
		Type:     TypeAdvanced,
		Blocks:   make([]Block, duration),
	}
	for i := range p.Blocks {
		p.Blocks[i].Activities = []Activity{}
	}
	return p
}
