// Package dynamofake is an in-memory stand-in for the DynamoDB calls the
// stores make. It understands the small expression dialect they use:
// SET updates with "+"/"-" arithmetic, conjunctions of attribute_exists,
// attribute_not_exists and "=" / "<>" conditions, and key conditions of the
// form "PK = :pk AND begins_with(SK, :p)" or "PK = :pk AND SK = :sk".
package dynamofake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Index describes a secondary index by its key attributes.
type Index struct {
	PartitionKey string
	SortKey      string
}

// Table is a single fake table. The zero value is not usable; call New.
type Table struct {
	mu      sync.Mutex
	pk, sk  string
	indexes map[string]Index
	items   map[string]map[string]types.AttributeValue
	errs    map[string]error
	calls   map[string]int
}

// New returns a table keyed on PK/SK with a GSI1 on GSI1PK/GSI1SK.
func New() *Table {
	t := NewWithKey("PK", "SK")
	t.indexes["GSI1"] = Index{PartitionKey: "GSI1PK", SortKey: "GSI1SK"}
	return t
}

// NewWithKey returns a table with the given key schema. sk may be empty.
func NewWithKey(pk, sk string) *Table {
	return &Table{
		pk:      pk,
		sk:      sk,
		indexes: map[string]Index{},
		items:   map[string]map[string]types.AttributeValue{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

// FailOn makes every call of op ("PutItem", "Query", ...) return err until
// cleared with a nil err.
func (t *Table) FailOn(op string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.errs, op)
		return
	}
	t.errs[op] = err
}

// Calls reports how many times op was invoked.
func (t *Table) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Len is the number of stored items.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Items returns a copy of every stored item.
func (t *Table) Items() []map[string]types.AttributeValue {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]types.AttributeValue, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, clone(it))
	}
	return out
}

func (t *Table) enter(op string) error {
	t.calls[op]++
	return t.errs[op]
}

func (t *Table) keyOf(item map[string]types.AttributeValue) (string, error) {
	p, ok := item[t.pk].(*types.AttributeValueMemberS)
	if !ok || p.Value == "" {
		return "", fmt.Errorf("missing key attribute %s", t.pk)
	}
	if t.sk == "" {
		return p.Value, nil
	}
	s, ok := item[t.sk].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing key attribute %s", t.sk)
	}
	return p.Value + "\x00" + s.Value, nil
}

func (t *Table) PutItem(ctx context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("PutItem"); err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}
	cur := t.items[k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}
	t.items[k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (t *Table) GetItem(ctx context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("GetItem"); err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (t *Table) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, _ ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("DeleteItem"); err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, t.items[k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}
	delete(t.items, k)
	return &dyn.DeleteItemOutput{}, nil
}

func (t *Table) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, _ ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("UpdateItem"); err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	cur := t.items[k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, cur)
	if err != nil {
		return nil, err
	}
	if !ok {
		ccf := &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
		if in.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld && cur != nil {
			ccf.Item = clone(cur)
		}
		return nil, ccf
	}
	next, err := applyUpdate(in.Key, cur, deref(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if in.ReturnValues == types.ReturnValueAllNew || in.ReturnValues == types.ReturnValueUpdatedNew {
		out.Attributes = clone(next)
	}
	return out, nil
}

func (t *Table) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("TransactWriteItems"); err != nil {
		return nil, err
	}
	type write struct {
		key  string
		item map[string]types.AttributeValue
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: str("None")}
		switch {
		case ti.Put != nil:
			k, err := t.keyOf(ti.Put.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(ti.Put.ConditionExpression, ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues, t.items[k])
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{key: k, item: clone(ti.Put.Item)})
		case ti.Update != nil:
			u := ti.Update
			k, err := t.keyOf(u.Key)
			if err != nil {
				return nil, err
			}
			cur := t.items[k]
			ok, err := evalCondition(u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues, cur)
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
				continue
			}
			next, err := applyUpdate(u.Key, cur, deref(u.UpdateExpression), u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{key: k, item: next})
		default:
			return nil, errors.New("dynamofake: only Put and Update are supported in transactions")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             str("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		t.items[w.key] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (t *Table) Query(ctx context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enter("Query"); err != nil {
		return nil, err
	}
	pkAttr, skAttr := t.pk, t.sk
	if name := deref(in.IndexName); name != "" {
		idx, ok := t.indexes[name]
		if !ok {
			return nil, fmt.Errorf("dynamofake: unknown index %s", name)
		}
		pkAttr, skAttr = idx.PartitionKey, idx.SortKey
	}
	kc, err := parseKeyCondition(deref(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if kc.pkAttr != pkAttr || (kc.skAttr != "" && kc.skAttr != skAttr) {
		return nil, fmt.Errorf("dynamofake: key condition %q does not match index keys %s/%s", deref(in.KeyConditionExpression), pkAttr, skAttr)
	}

	var matched []map[string]types.AttributeValue
	for _, it := range t.items {
		if s(it[pkAttr]) != kc.pk {
			continue
		}
		sv, ok := it[skAttr].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if kc.skEquals != nil && sv.Value != *kc.skEquals {
			continue
		}
		if kc.skPrefix != nil && !strings.HasPrefix(sv.Value, *kc.skPrefix) {
			continue
		}
		matched = append(matched, it)
	}

	// order by sort key, then by table key so index pages are stable
	order := func(it map[string]types.AttributeValue) string {
		return s(it[skAttr]) + "\x00" + s(it[t.pk]) + "\x00" + s(it[t.sk])
	}
	sort.Slice(matched, func(i, j int) bool { return order(matched[i]) < order(matched[j]) })
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	if !forward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	if len(in.ExclusiveStartKey) > 0 {
		startOrder := order(in.ExclusiveStartKey)
		pos := len(matched)
		for i, it := range matched {
			o := order(it)
			if (forward && o > startOrder) || (!forward && o < startOrder) {
				pos = i
				break
			}
		}
		matched = matched[pos:]
	}

	out := &dyn.QueryOutput{}
	limit := len(matched)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
	}
	for _, it := range matched[:limit] {
		out.Items = append(out.Items, clone(it))
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = out.Count
	if limit < len(matched) && limit > 0 {
		last := matched[limit-1]
		lek := map[string]types.AttributeValue{t.pk: last[t.pk]}
		if t.sk != "" {
			lek[t.sk] = last[t.sk]
		}
		if pkAttr != t.pk {
			lek[pkAttr] = last[pkAttr]
			lek[skAttr] = last[skAttr]
		}
		out.LastEvaluatedKey = lek
	}
	return out, nil
}

type keyCondition struct {
	pkAttr   string
	pk       string
	skAttr   string
	skEquals *string
	skPrefix *string
}

func parseKeyCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (keyCondition, error) {
	var kc keyCondition
	parts := splitAnd(expr)
	if len(parts) == 0 || len(parts) > 2 {
		return kc, fmt.Errorf("dynamofake: unsupported key condition %q", expr)
	}
	l, r, ok := strings.Cut(parts[0], "=")
	if !ok {
		return kc, fmt.Errorf("dynamofake: unsupported key condition %q", expr)
	}
	kc.pkAttr = resolveName(strings.TrimSpace(l), names)
	kc.pk = s(values[strings.TrimSpace(r)])
	if len(parts) == 1 {
		return kc, nil
	}
	second := strings.TrimSpace(parts[1])
	if strings.HasPrefix(second, "begins_with(") {
		args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(second, "begins_with("), ")"), ",")
		if len(args) != 2 {
			return kc, fmt.Errorf("dynamofake: bad begins_with in %q", expr)
		}
		kc.skAttr = resolveName(strings.TrimSpace(args[0]), names)
		p := s(values[strings.TrimSpace(args[1])])
		kc.skPrefix = &p
		return kc, nil
	}
	l, r, ok = strings.Cut(second, "=")
	if !ok {
		return kc, fmt.Errorf("dynamofake: unsupported sort key condition %q", second)
	}
	kc.skAttr = resolveName(strings.TrimSpace(l), names)
	v := s(values[strings.TrimSpace(r)])
	kc.skEquals = &v
	return kc, nil
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, term := range splitAnd(*expr) {
		term = strings.TrimSpace(term)
		switch {
		case strings.HasPrefix(term, "attribute_not_exists("):
			a := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"), names)
			if _, ok := item[a]; ok {
				return false, nil
			}
		case strings.HasPrefix(term, "attribute_exists("):
			a := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"), names)
			if _, ok := item[a]; !ok {
				return false, nil
			}
		case strings.Contains(term, "<>"):
			l, r, _ := strings.Cut(term, "<>")
			if equal(item[resolveName(strings.TrimSpace(l), names)], values[strings.TrimSpace(r)]) {
				return false, nil
			}
		case strings.Contains(term, "="):
			l, r, _ := strings.Cut(term, "=")
			if !equal(item[resolveName(strings.TrimSpace(l), names)], values[strings.TrimSpace(r)]) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("dynamofake: unsupported condition %q", term)
		}
	}
	return true, nil
}

func applyUpdate(key, cur map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	next := clone(cur)
	if next == nil {
		next = clone(key)
	}
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("dynamofake: unsupported update %q", expr)
	}
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		l, r, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("dynamofake: bad SET clause %q", clause)
		}
		attr := resolveName(strings.TrimSpace(l), names)
		r = strings.TrimSpace(r)
		switch {
		case strings.Contains(r, "+"), strings.Contains(r, " - "):
			op := "+"
			if !strings.Contains(r, "+") {
				op = "-"
			}
			a, b, _ := strings.Cut(r, op)
			left := operand(strings.TrimSpace(a), names, values, next)
			right := operand(strings.TrimSpace(b), names, values, next)
			x, err := num(left)
			if err != nil {
				return nil, err
			}
			y, err := num(right)
			if err != nil {
				return nil, err
			}
			if op == "-" {
				y = -y
			}
			next[attr] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}
		default:
			v, ok := values[r]
			if !ok {
				return nil, fmt.Errorf("dynamofake: missing value %s", r)
			}
			next[attr] = v
		}
	}
	return next, nil
}

func operand(tok string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) types.AttributeValue {
	if strings.HasPrefix(tok, ":") {
		return values[tok]
	}
	return item[resolveName(tok, names)]
}

func num(av types.AttributeValue) (float64, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("dynamofake: arithmetic on non-number")
	}
	return strconv.ParseFloat(n.Value, 64)
}

func equal(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		fx, err1 := strconv.ParseFloat(x.Value, 64)
		fy, err2 := strconv.ParseFloat(y.Value, 64)
		return err1 == nil && err2 == nil && fx == fy
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return false
}

func splitAnd(expr string) []string {
	var out []string
	for _, p := range strings.Split(expr, " AND ") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func resolveName(tok string, names map[string]string) string {
	if strings.HasPrefix(tok, "#") {
		if n, ok := names[tok]; ok {
			return n
		}
	}
	return tok
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func s(av types.AttributeValue) string {
	if v, ok := av.(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func str(v string) *string { return &v }
