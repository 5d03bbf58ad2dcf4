// Package book holds orders waiting on a price trigger. The book only
// references orders owned by the engine; it is purely transient and
// never persisted.
package book

import (
	"sort"

	"main/internal/schema"
)

// Book partitions pending orders by side and symbol. It is not locked
// internally: the engine serializes all access.
type Book struct {
	buys  map[string][]*schema.Order
	sells map[string][]*schema.Order
}

// New creates an empty book.
func New() *Book {
	return &Book{
		buys:  make(map[string][]*schema.Order),
		sells: make(map[string][]*schema.Order),
	}
}

// Add inserts the order and re-sorts its bucket by price-time priority:
// better price first, ties broken by arrival time.
func (b *Book) Add(order *schema.Order) {
	bucket := b.bucket(order.Side)
	orders := append(bucket[order.Symbol], order)
	sort.SliceStable(orders, func(i, j int) bool {
		cmp := orders[i].Price.Cmp(orders[j].Price)
		if cmp != 0 {
			return cmp > 0
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	bucket[order.Symbol] = orders
}

// Remove deletes the order by identity. Unknown orders are a no-op.
func (b *Book) Remove(order *schema.Order) {
	bucket := b.bucket(order.Side)
	orders, ok := bucket[order.Symbol]
	if !ok {
		return
	}

	kept := orders[:0]
	for _, o := range orders {
		if o.ID != order.ID {
			kept = append(kept, o)
		}
	}
	if len(kept) == 0 {
		delete(bucket, order.Symbol)
		return
	}
	bucket[order.Symbol] = kept
}

// Pending returns the orders waiting on a symbol for one side, in
// priority order.
func (b *Book) Pending(side schema.OrderSide, symbol string) []*schema.Order {
	orders := b.bucket(side)[symbol]
	out := make([]*schema.Order, len(orders))
	copy(out, orders)
	return out
}

// Len counts every pending order across both sides.
func (b *Book) Len() int {
	n := 0
	for _, orders := range b.buys {
		n += len(orders)
	}
	for _, orders := range b.sells {
		n += len(orders)
	}
	return n
}

func (b *Book) bucket(side schema.OrderSide) map[string][]*schema.Order {
	if side == schema.OrderSideBuy {
		return b.buys
	}
	return b.sells
}
