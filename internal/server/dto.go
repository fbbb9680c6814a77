package server

import (
	"unstuck/internal/domain"
)

// Request payloads

type PostTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
	MaxPrice    *int64  `json:"max_price,omitempty"`
}

type PlaceBidRequest struct {
	Amount  int64   `json:"amount"`
	Invoice *string `json:"invoice,omitempty"`
}

type SubmitWorkRequest struct {
	Content string  `json:"content"`
	Format  *string `json:"format,omitempty" enum:"text,json"`
}

type DevLoginRequest struct {
	PubKey string `json:"pubkey"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type TaskResponse struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	MaxPrice    int64  `json:"max_price,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type BidResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Bidder    string `json:"bidder"`
	Amount    int64  `json:"amount"`
	Invoice   string `json:"invoice,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type WorkResponse struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	Worker       string          `json:"worker"`
	Format       string          `json:"format,omitempty"`
	Instructions string          `json:"instructions,omitempty"`
	Actions      []domain.Action `json:"actions,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

type AggregateResponse struct {
	Task      TaskResponse  `json:"task"`
	Status    domain.Status `json:"status"`
	Bid       *BidResponse  `json:"bid,omitempty"`
	Work      *WorkResponse `json:"work,omitempty"`
	BidAmount int64         `json:"bid_amount,omitempty"`
	Invoice   string        `json:"invoice,omitempty"`
}

type ProfileResponse struct {
	PubKey      string `json:"pubkey"`
	DisplayName string `json:"display_name,omitempty"`
	PictureURL  string `json:"picture_url,omitempty"`
	About       string `json:"about,omitempty"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID(),
		Author:      t.Author(),
		Title:       t.Title,
		Description: t.Description,
		Image:       t.Image,
		MaxPrice:    t.MaxPrice,
		CreatedAt:   int64(t.Event.CreatedAt),
	}
}

func bidResponse(b domain.Bid) BidResponse {
	return BidResponse{
		ID:        b.Event.ID,
		TaskID:    b.TaskID,
		Bidder:    b.Event.PubKey,
		Amount:    b.Amount,
		Invoice:   b.Invoice,
		CreatedAt: int64(b.Event.CreatedAt),
	}
}

func workResponse(w domain.Work) WorkResponse {
	return WorkResponse{
		ID:           w.Event.ID,
		TaskID:       w.TaskID,
		Worker:       w.Event.PubKey,
		Format:       w.Format,
		Instructions: w.Instructions,
		Actions:      w.Actions,
		CreatedAt:    int64(w.Event.CreatedAt),
	}
}

func aggregateResponse(a domain.TaskAggregate) AggregateResponse {
	out := AggregateResponse{
		Task:      taskResponse(a.Task),
		Status:    a.Status,
		BidAmount: a.BidAmount,
		Invoice:   a.Invoice,
	}
	if a.Bid != nil {
		b := bidResponse(*a.Bid)
		out.Bid = &b
	}
	if a.Work != nil {
		w := workResponse(*a.Work)
		out.Work = &w
	}
	return out
}

func mapAggregates(items []domain.TaskAggregate) []AggregateResponse {
	out := make([]AggregateResponse, 0, len(items))
	for _, item := range items {
		out = append(out, aggregateResponse(item))
	}
	return out
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		PubKey:      p.PubKey,
		DisplayName: p.DisplayName,
		PictureURL:  p.PictureURL,
		About:       p.About,
	}
}
