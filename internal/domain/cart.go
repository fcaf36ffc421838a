package domain

// LineItem is a snapshot of a catalog item at the moment it was added to a
// cart. Name and price are copied, not referenced, so later menu edits do not
// change what the guest agreed to pay. Prices are in minor currency units.
type LineItem struct {
	CatalogItemID string `json:"catalogItemId"`
	DisplayName   string `json:"displayName"`
	UnitPrice     int64  `json:"unitPrice"`
	Quantity      int    `json:"quantity"`
}

func (li LineItem) LineTotal() int64 {
	return li.UnitPrice * int64(li.Quantity)
}

// Cart is the transient, session-owned collection of line items. It is never
// persisted; it is converted into an Order (or merged into one) and discarded.
type Cart struct {
	Items []LineItem `json:"items"`
}

// AddItem merges by catalog item id: adding an item already in the cart
// increments its quantity instead of appending a duplicate entry.
func (c *Cart) AddItem(item LineItem) {
	for i := range c.Items {
		if c.Items[i].CatalogItemID == item.CatalogItemID {
			c.Items[i].Quantity += item.Quantity
			return
		}
	}
	c.Items = append(c.Items, item)
}

// RemoveItem decrements the quantity for the catalog item, dropping the line
// entirely once it reaches zero.
func (c *Cart) RemoveItem(catalogItemID string) {
	for i := range c.Items {
		if c.Items[i].CatalogItemID != catalogItemID {
			continue
		}
		c.Items[i].Quantity--
		if c.Items[i].Quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		}
		return
	}
}

func (c *Cart) Clear() {
	c.Items = nil
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}
