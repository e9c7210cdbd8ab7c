package mysql

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/onlinestore/internal/order/domain"
)

// OrderModel 订单表映射
type OrderModel struct {
	ID             uint             `gorm:"primaryKey;autoIncrement"`
	CreatedAt      time.Time        `gorm:"column:created_at"`
	UpdatedAt      time.Time        `gorm:"column:updated_at"`
	OrderID        string           `gorm:"column:order_id;type:varchar(36);uniqueIndex;not null;comment:订单唯一标识"`
	IdempotencyKey string           `gorm:"column:idempotency_key;type:varchar(128);index;not null;comment:客户端幂等键"`
	Status         string           `gorm:"column:status;type:varchar(20);index;not null;comment:订单状态"`
	TotalAmount    decimal.Decimal  `gorm:"column:total_amount;type:decimal(20,4);not null;comment:订单总额"`
	Items          []OrderItemModel `gorm:"foreignKey:OrderID;references:OrderID"`
}

// TableName 指定表名
func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 订单行表映射
type OrderItemModel struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	OrderID   string          `gorm:"column:order_id;type:varchar(36);index;not null"`
	LineNo    int             `gorm:"column:line_no;not null"`
	ProductID string          `gorm:"column:product_id;type:varchar(64);index;not null"`
	Quantity  int64           `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:decimal(20,4);not null"`
}

// TableName 指定表名
func (OrderItemModel) TableName() string { return "order_items" }

// IdempotencyModel 幂等索引表，键上的唯一约束保证同一请求至多创建一次订单
type IdempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(128);primaryKey"`
	OrderID        string    `gorm:"column:order_id;type:varchar(36);not null"`
	RequestHash    string    `gorm:"column:request_hash;type:char(64);not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName 指定表名
func (IdempotencyModel) TableName() string { return "order_idempotency_keys" }

// mapping helpers

func toOrderModel(o *domain.Order) *OrderModel {
	items := make([]OrderItemModel, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemModel{
			OrderID:   o.OrderID,
			LineNo:    i,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return &OrderModel{
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		OrderID:        o.OrderID,
		IdempotencyKey: o.IdempotencyKey,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		Items:          items,
	}
}

func toOrder(m *OrderModel) *domain.Order {
	items := make([]domain.Item, len(m.Items))
	for i, it := range m.Items {
		items[i] = domain.Item{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return &domain.Order{
		OrderID:        m.OrderID,
		IdempotencyKey: m.IdempotencyKey,
		Status:         domain.OrderStatus(m.Status),
		Items:          items,
		TotalAmount:    m.TotalAmount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
