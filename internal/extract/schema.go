package extract

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// schemaEvent is the shape the model is asked to fill in. It mirrors the
// stored event without the fields the pipeline owns (id, created_at, updated_at).
type schemaEvent struct {
	EmailID            string   `json:"email_id" jsonschema_description:"Identifier of the source email. Always echo the id given in the request."`
	Title              string   `json:"title" jsonschema_description:"Short event title."`
	Description        string   `json:"description" jsonschema_description:"One or two sentence summary of the event."`
	Location           string   `json:"location" jsonschema_description:"Venue or address as written in the email."`
	NormalizedLocation string   `json:"normalized_location" jsonschema_description:"Location rewritten as 'Venue, City, Country' when it can be inferred."`
	Category           string   `json:"category" jsonschema_description:"Single lower-case category such as concert, talk, workshop or exhibition."`
	StartTime          string   `json:"start_time" jsonschema:"format=date-time" jsonschema_description:"Start as ISO-8601. Include the UTC offset when known."`
	EndTime            string   `json:"end_time" jsonschema:"format=date-time" jsonschema_description:"End as ISO-8601. Include the UTC offset when known."`
	SourceName         string   `json:"source_name" jsonschema_description:"Name of the newsletter or organisation that sent the email."`
	SourceEmail        string   `json:"source_email" jsonschema_description:"Sender email address."`
	SourceDomain       string   `json:"source_domain" jsonschema_description:"Domain of the sender address."`
	OrganizerName      string   `json:"organizer_name" jsonschema_description:"Who runs the event, if different from the sender."`
	OrganizerURL       string   `json:"organizer_url" jsonschema_description:"Organizer website."`
	SourceURL          string   `json:"source_url" jsonschema_description:"Link to the event page mentioned in the email."`
	Tags               []string `json:"tags" jsonschema_description:"Free-form lower-case keywords."`
}

const requiredField = "email_id"

var (
	schemaOnce sync.Once
	schemaDoc  map[string]any
)

// EventSchema returns the JSON Schema sent with every extraction request.
// Every property except email_id accepts null, no other properties are
// allowed, and only email_id is required.
func EventSchema() map[string]any {
	schemaOnce.Do(func() {
		schemaDoc = buildSchema()
	})
	return schemaDoc
}

func buildSchema() map[string]any {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&schemaEvent{})
	s.Version = ""
	s.ID = ""
	s.AdditionalProperties = jsonschema.FalseSchema
	s.Required = []string{requiredField}

	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == requiredField {
			continue
		}
		prop := pair.Value
		desc := prop.Description
		prop.Description = ""
		pair.Value = &jsonschema.Schema{
			AnyOf:       []*jsonschema.Schema{prop, {Type: "null"}},
			Description: desc,
		}
	}

	// the client wants a plain document
	data, err := json.Marshal(s)
	if err != nil {
		panic("extract: marshal event schema: " + err.Error())
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		panic("extract: unmarshal event schema: " + err.Error())
	}
	return doc
}

// SchemaJSON returns the indented schema document.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(EventSchema(), "", "  ")
}
