package domain

import "time"

// MarketPriceEntry 按方向键维护的市场价（与反向键同步维护）
type MarketPriceEntry struct {
	Price         float64   `json:"price"`
	PreviousPrice float64   `json:"previousPrice"`
	Source        string    `json:"source"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
