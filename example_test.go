package weft_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/weftlabs/weft"
)

// Example_transfer demonstrates defining a compensable workflow with the
// builder and running it synchronously on an in-memory engine.
func Example_transfer() {
	ctx := context.Background()
	eng := weft.NewInMemoryEngine()

	transfer := weft.NewWorkflow("transfer").
		Step("debit", debitAccount,
			weft.Compensate(refundDebit)).
		Step("credit", creditAccount,
			weft.WithInput(weft.Output("debit")),
			weft.Compensate(reverseCredit))

	if err := transfer.Register(eng); err != nil {
		log.Fatal(err)
	}

	tx, err := weft.Run(ctx, eng, "transfer", weft.RunOptions{Input: "order-42"})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("status=%s output=%v\n", tx.Status, tx.Output)
	// Output: status=SUCCEEDED output=credited(debited(order-42))
}

// Example_localRunner demonstrates asynchronous execution through the
// in-process queue and worker.
func Example_localRunner() {
	ctx := context.Background()

	runner := weft.NewLocalRunner()
	defer runner.Stop()

	weft.NewWorkflow("greet").
		Step("say", func(ctx context.Context, input any) (any, error) {
			return fmt.Sprintf("hello, %v", input), nil
		}).
		MustRegister(runner.Engine)

	if err := runner.StartWorkers(ctx, 1); err != nil {
		log.Fatal(err)
	}

	txID, err := runner.RunWorkflowAsync(ctx, "greet", "gopher")
	if err != nil {
		log.Fatal(err)
	}

	tx, err := runner.WaitForTransaction(ctx, txID, 5*time.Second)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("status=%s output=%v\n", tx.Status, tx.Output)
	// Output: status=SUCCEEDED output=hello, gopher
}

func debitAccount(ctx context.Context, input any) (any, error) {
	return fmt.Sprintf("debited(%v)", input), nil
}

func refundDebit(ctx context.Context, ci weft.CompensationInput) error {
	log.Printf("refunding debit for %s", ci.TransactionID)
	return nil
}

func creditAccount(ctx context.Context, input any) (any, error) {
	return fmt.Sprintf("credited(%v)", input), nil
}

func reverseCredit(ctx context.Context, ci weft.CompensationInput) error {
	log.Printf("reversing credit for %s", ci.TransactionID)
	return nil
}
