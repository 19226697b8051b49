package he

import (
	"context"
	"errors"
	"testing"
)

func TestLocalEngineOps(t *testing.T) {
	engine := NewLocal()
	ctx := context.Background()

	a, err := engine.Encrypt(7)
	if err != nil {
		t.Fatalf("шифрование: %v", err)
	}
	b, err := engine.Encrypt(5)
	if err != nil {
		t.Fatalf("шифрование: %v", err)
	}

	sum, err := engine.Add(ctx, a, b)
	if err != nil {
		t.Fatalf("сложение: %v", err)
	}
	if v, _ := engine.Value(sum); v != 12 {
		t.Fatalf("ожидали 12, получили %d", v)
	}

	gt, err := engine.Gt(ctx, a, b)
	if err != nil {
		t.Fatalf("сравнение: %v", err)
	}
	if v, _ := engine.Value(gt); v != 1 {
		t.Fatalf("7 > 5 должно давать 1, получили %d", v)
	}

	// Строгое сравнение: равенство — не больше.
	eq, err := engine.Gt(ctx, a, a)
	if err != nil {
		t.Fatalf("сравнение: %v", err)
	}
	if v, _ := engine.Value(eq); v != 0 {
		t.Fatalf("7 > 7 должно давать 0, получили %d", v)
	}

	chosen, err := engine.Select(ctx, gt, a, b)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if v, _ := engine.Value(chosen); v != 7 {
		t.Fatalf("истинный предикат выбирает первый операнд, получили %d", v)
	}
	chosen, err = engine.Select(ctx, eq, a, b)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if v, _ := engine.Value(chosen); v != 5 {
		t.Fatalf("ложный предикат выбирает второй операнд, получили %d", v)
	}
}

func TestLocalEngineHandlesAreOpaque(t *testing.T) {
	engine := NewLocal()

	a, _ := engine.Encrypt(1)
	b, _ := engine.Encrypt(1)
	if string(a) == string(b) {
		t.Fatalf("хэндлы на равные значения должны различаться")
	}

	exported, err := engine.Export(context.Background(), a)
	if err != nil {
		t.Fatalf("экспорт: %v", err)
	}
	if v, err := engine.Value(exported); err != nil || v != 1 {
		t.Fatalf("экспортированный хэндл должен указывать на то же значение")
	}
}

func TestLocalEngineUnknownHandle(t *testing.T) {
	engine := NewLocal()
	a, _ := engine.Encrypt(1)

	if _, err := engine.Gt(context.Background(), a, []byte("garbage")); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("ожидали ErrUnknownHandle, получили %v", err)
	}
	if _, err := engine.Export(context.Background(), []byte("garbage")); !errors.Is(err, ErrUnknownHandle) {
		t.Fatalf("ожидали ErrUnknownHandle, получили %v", err)
	}
}
