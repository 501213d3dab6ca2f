package event

import "time"

// Record is the flattened, stored form of an Event. Timestamps are ISO-8601
// strings in UTC with an explicit offset and tags are never nil.
type Record struct {
	ID                 string   `json:"id" dynamodbav:"id" gorm:"primaryKey"`
	EmailID            string   `json:"email_id" dynamodbav:"email_id" gorm:"index"`
	Title              *string  `json:"title" dynamodbav:"title,omitempty"`
	Description        *string  `json:"description" dynamodbav:"description,omitempty"`
	StartTime          *string  `json:"start_time" dynamodbav:"start_time,omitempty" gorm:"index"`
	EndTime            *string  `json:"end_time" dynamodbav:"end_time,omitempty"`
	Location           *string  `json:"location" dynamodbav:"location,omitempty"`
	NormalizedLocation *string  `json:"normalized_location" dynamodbav:"normalized_location,omitempty"`
	Category           *string  `json:"category" dynamodbav:"category,omitempty" gorm:"index"`
	SourceName         *string  `json:"source_name" dynamodbav:"source_name,omitempty" gorm:"index"`
	SourceEmail        *string  `json:"source_email" dynamodbav:"source_email,omitempty"`
	SourceDomain       *string  `json:"source_domain" dynamodbav:"source_domain,omitempty"`
	OrganizerName      *string  `json:"organizer_name" dynamodbav:"organizer_name,omitempty"`
	OrganizerURL       *string  `json:"organizer_url" dynamodbav:"organizer_url,omitempty"`
	SourceURL          *string  `json:"source_url" dynamodbav:"source_url,omitempty"`
	Tags               []string `json:"tags" dynamodbav:"tags" gorm:"serializer:json"`
	CreatedAt          string   `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt          string   `json:"updated_at" dynamodbav:"updated_at"`
}

// Record flattens the event for storage. created_at defaults to now when the
// event has none and updated_at is always now.
func (e *Event) Record(now time.Time) Record {
	created := now
	if e.CreatedAt != nil {
		created = *e.CreatedAt
	}

	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}

	return Record{
		ID:                 e.ID,
		EmailID:            e.EmailID,
		Title:              e.Title,
		Description:        e.Description,
		StartTime:          formatOptional(e.StartTime),
		EndTime:            formatOptional(e.EndTime),
		Location:           e.Location,
		NormalizedLocation: e.NormalizedLocation,
		Category:           e.Category,
		SourceName:         e.SourceName,
		SourceEmail:        e.SourceEmail,
		SourceDomain:       e.SourceDomain,
		OrganizerName:      e.OrganizerName,
		OrganizerURL:       e.OrganizerURL,
		SourceURL:          e.SourceURL,
		Tags:               tags,
		CreatedAt:          FormatTimestamp(created),
		UpdatedAt:          FormatTimestamp(now),
	}
}

// FormattedStartTime returns the stored form of the start time, or "" when absent.
func (e *Event) FormattedStartTime() string {
	return StringValue(formatOptional(e.StartTime))
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTimestamp(*t)
	return &s
}
