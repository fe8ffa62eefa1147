package dto

// SendEmailPayload is the payload of an email job.
type SendEmailPayload struct {
	To      string   `json:"to" validate:"required,email"`
	Cc      []string `json:"cc,omitempty" validate:"omitempty,max=20,dive,email"`
	ReplyTo string   `json:"reply_to,omitempty" validate:"omitempty,email"`
	Subject string   `json:"subject" validate:"required,max=998"`
	Body    string   `json:"body" validate:"required"`
	HTML    bool     `json:"html,omitempty"`
}
