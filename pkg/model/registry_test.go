package model

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/save4go/pkg/update"
)

type Customer struct {
	ID      uint
	Email   string `gorm:"uniqueIndex"`
	Name    string
	Version int `gorm:"concurrencyToken"`
	Orders  []*Order
}

type Order struct {
	ID         uint
	CustomerID uint
	Customer   *Customer
	Reference  string    `gorm:"unique"`
	Priority   int       `gorm:"default:7"`
	PlacedAt   time.Time `gorm:"default:now()"`
	Rank       int       `gorm:"->"`
	Note       *string
	Internal   string `gorm:"-"`
}

type Region struct {
	Code string `gorm:"primaryKey"`
	Name string
}

func newTestModel(t *testing.T, values ...any) *Model {
	r, err := NewRegistry(0, nil)
	require.NoError(t, err)
	m, err := r.Model(values...)
	require.NoError(t, err)
	return m
}

func columns(t *update.EntityType) []string {
	var out []string
	for _, p := range t.Properties {
		out = append(out, p.Column)
	}
	return out
}

func TestRegistryMapsProperties(t *testing.T) {
	m := newTestModel(t, &Customer{}, Order{})

	customer, err := m.Entity(&Customer{})
	require.NoError(t, err)
	require.Equal(t, "Customer", customer.Type.Name)
	require.Equal(t, update.Table{Name: "customers"}, customer.Type.Table)
	require.Equal(t, []string{"id", "email", "name", "version"}, columns(customer.Type))

	id := customer.Type.Property("ID")
	require.True(t, id.PrimaryKey)
	require.Equal(t, update.ValueGeneratedOnAdd, id.ValueGenerated)
	require.True(t, customer.Type.Property("Version").ConcurrencyToken)
	require.False(t, customer.Type.Property("Name").ConcurrencyToken)

	order, err := m.Entity([]*Order{})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "customer_id", "reference", "priority", "placed_at", "rank", "note"}, columns(order.Type))

	// A literal default is sent by the client. A function default and a
	// read-only column come from the store.
	require.Equal(t, update.ValueGeneratedNever, order.Type.Property("Priority").ValueGenerated)
	require.Equal(t, update.ValueGeneratedOnAdd, order.Type.Property("PlacedAt").ValueGenerated)
	require.Equal(t, update.ValueGeneratedOnAddOrUpdate, order.Type.Property("Rank").ValueGenerated)

	_, err = m.Entity(&Region{})
	require.EqualError(t, err, "type model.Region is not part of the model")
}

func TestRegistryMapsKeys(t *testing.T) {
	m := newTestModel(t, &Customer{}, &Order{}, &Region{})

	customer, _ := m.Entity(&Customer{})
	require.Len(t, customer.Type.UniqueKeys, 1)
	require.Equal(t, "idx_customers_email", customer.Type.UniqueKeys[0].Name)
	require.Equal(t, []*update.Property{customer.Type.Property("Email")}, customer.Type.UniqueKeys[0].Properties)

	order, _ := m.Entity(&Order{})
	require.Len(t, order.Type.UniqueKeys, 1)
	require.Equal(t, "uni_orders_reference", order.Type.UniqueKeys[0].Name)

	// Order.Customer and Customer.Orders describe the same foreign key.
	require.Len(t, order.Type.ForeignKeys, 1)
	fk := order.Type.ForeignKeys[0]
	require.Equal(t, "fk_orders_customer_id", fk.Name)
	require.Equal(t, customer.Type, fk.PrincipalType)
	require.Equal(t, order.Type, fk.DependentType)
	require.Equal(t, []*update.Property{order.Type.Property("CustomerID")}, fk.Properties)
	require.Equal(t, []*update.ForeignKey{fk}, customer.Type.ReferencingForeignKeys())

	region, _ := m.Entity(&Region{})
	require.Equal(t, update.ValueGeneratedNever, region.Type.Property("Code").ValueGenerated)
	require.Empty(t, region.Type.ForeignKeys)
}

func TestRegistryIgnoresRelationshipsOutsideModel(t *testing.T) {
	m := newTestModel(t, &Order{})
	order, _ := m.Entity(&Order{})
	require.Empty(t, order.Type.ForeignKeys)
	require.Empty(t, order.Navigations())
}

func TestRegistryBuildsIndependentModels(t *testing.T) {
	r, err := NewRegistry(4, nil)
	require.NoError(t, err)

	first, err := r.Model(&Customer{}, &Order{})
	require.NoError(t, err)
	second, err := r.Model(&Order{})
	require.NoError(t, err)

	a, _ := first.Entity(&Order{})
	b, _ := second.Entity(&Order{})
	require.NotSame(t, a.Type, b.Type)
	require.Len(t, a.Type.ForeignKeys, 1)
	require.Empty(t, b.Type.ForeignKeys)

	_, err = r.Model(42)
	require.EqualError(t, err, "int is not a struct")
}

func TestNavigations(t *testing.T) {
	m := newTestModel(t, &Customer{}, &Order{})
	customer, _ := m.Entity(&Customer{})
	order, _ := m.Entity(&Order{})

	require.Len(t, customer.Navigations(), 1)
	orders := customer.Navigations()[0]
	require.Equal(t, "Orders", orders.Name)
	require.False(t, orders.OnDependent)
	require.True(t, orders.Collection)
	require.Same(t, order, orders.Target)

	require.Len(t, order.Navigations(), 1)
	owner := order.Navigations()[0]
	require.True(t, owner.OnDependent)
	require.Same(t, customer, owner.Target)
	require.Same(t, orders.ForeignKey, owner.ForeignKey)

	var ctx = context.Background()
	c := &Customer{ID: 3}
	o1, o2 := &Order{Customer: c}, &Order{}
	c.Orders = []*Order{o1, nil, o2}

	require.Equal(t, []any{o1, o2}, orders.Related(ctx, reflect.ValueOf(c)))
	require.Equal(t, []any{c}, owner.Related(ctx, reflect.ValueOf(o1)))
	require.Empty(t, owner.Related(ctx, reflect.ValueOf(o2)))
}

func TestEntityValues(t *testing.T) {
	var ctx = context.Background()
	m := newTestModel(t, &Order{})
	order, _ := m.Entity(&Order{})

	note := "fragile"
	o := &Order{ID: 0, Note: &note, Priority: 2}
	rv := reflect.ValueOf(o)

	id, notes := order.Type.Property("ID"), order.Type.Property("Note")
	require.True(t, order.IsZero(ctx, rv, id))
	require.Equal(t, "fragile", order.Value(ctx, rv, notes))
	require.Equal(t, 2, order.Value(ctx, rv, order.Type.Property("Priority")))

	// Stores hand back int64 or text encoded integers.
	require.NoError(t, order.SetValue(ctx, rv, id, int64(41)))
	require.Equal(t, uint(41), o.ID)
	require.NoError(t, order.SetValue(ctx, rv, id, []byte("42")))
	require.Equal(t, uint(42), o.ID)
	require.False(t, order.IsZero(ctx, rv, id))

	require.NoError(t, order.SetValue(ctx, rv, notes, nil))
	require.Nil(t, o.Note)
	require.Nil(t, order.Value(ctx, rv, notes))
}
