// Package gmail lists and reads messages through the Gmail API.
//
// It covers the two mailbox calls the ingestion run makes:
//   - ListMessageIDs pages through messages.list for a search query
//   - FetchMessage gets a message in full format and extracts its text
//
// Both calls retry transient failures (throttling, 5xx, transport errors)
// with exponential backoff. A listing that still fails returns an error
// wrapping ErrListingFailed; callers treat that as fatal for the run.
//
// Text extraction walks the MIME tree recursively, decodes base64url bodies,
// strips HTML parts down to text and falls back to the message snippet.
//
// Example usage:
//
//	client, err := gmail.NewClient(ctx, tokenSource, gmail.Options{
//	    Retry: retry.Policy{MaxRetries: 3},
//	})
//	if err != nil {
//	    return err
//	}
//	ids, err := client.ListMessageIDs(ctx, "label:events")
package gmail
