// Package graph implements a Provider that mails undeliverable messages to a
// postmaster mailbox via the Microsoft Graph sendMail API.
package graph

import (
	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/provider"
)

// sendMailRequest is the request body of the sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

// tokenResponse is the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// errorResponse is the error body returned by Graph.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// reportRequest addresses the dead-letter report for msg to recipient.
func reportRequest(recipientAddr string, msg *mail.Message, reason string) *sendMailRequest {
	return &sendMailRequest{
		Message: sendMailMessage{
			Subject: "[dmail] undeliverable: " + msg.Subject,
			Body: messageBody{
				ContentType: "text",
				Content:     provider.Report(msg, reason),
			},
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: recipientAddr}}},
		},
	}
}
