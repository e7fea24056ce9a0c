package problem

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"mathfluency-service/internal/domain"
)

// Operation names understood by the generator.
const (
	OpAddition       = "addition"
	OpSubtraction    = "subtraction"
	OpMultiplication = "multiplication"
)

// Generator produces random arithmetic problems by operation and level.
// Addition levels follow the fluency progression: 1 = +1 facts, 2 = +2 facts,
// 3 = make ten, 4 = double digit + single digit, 5 = double digit + double digit.
// Multiplication levels 0-12 are the times tables. Subtraction mirrors the
// addition ranges with non-negative results.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator() *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewGeneratorWithSeed is test-only for deterministic problems.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Next generates a problem for the given operation and level.
func (g *Generator) Next(_ context.Context, operation string, level int) (domain.Problem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var text string
	var answer int
	switch operation {
	case OpAddition:
		a, b, err := g.additionOperands(level)
		if err != nil {
			return domain.Problem{}, err
		}
		text, answer = fmt.Sprintf("%d + %d", a, b), a+b
	case OpSubtraction:
		a, b, err := g.additionOperands(level)
		if err != nil {
			return domain.Problem{}, err
		}
		// Subtract the smaller from the larger so answers stay non-negative.
		if b > a {
			a, b = b, a
		}
		text, answer = fmt.Sprintf("%d - %d", a, b), a-b
	case OpMultiplication:
		if level < 0 || level > 12 {
			return domain.Problem{}, domain.ErrInvalidLevel
		}
		factor := g.rnd.Intn(13)
		text, answer = fmt.Sprintf("%d × %d", factor, level), factor*level
	default:
		return domain.Problem{}, domain.ErrUnknownOperation
	}

	return domain.Problem{
		ID:        uuid.NewString(),
		Text:      text,
		Answer:    answer,
		Operation: operation,
		Level:     level,
	}, nil
}

func (g *Generator) additionOperands(level int) (int, int, error) {
	switch level {
	case 1: // adding 1 to a single digit
		return g.between(1, 9), 1, nil
	case 2: // adding 2 to a single digit
		return g.between(1, 9), 2, nil
	case 3: // make ten
		a := g.between(1, 9)
		return a, 10 - a, nil
	case 4: // double digit + single digit
		return g.between(10, 99), g.between(1, 9), nil
	case 5: // double digit + double digit
		return g.between(10, 99), g.between(10, 99), nil
	default:
		return 0, 0, domain.ErrInvalidLevel
	}
}

func (g *Generator) between(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}
