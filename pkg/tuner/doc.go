// Package tuner runs hyperparameter searches from Go code.
//
// A search proposes assignments from a parameter space, evaluates them with an
// objective and keeps every trial in a store. Processes that share a store and an
// experiment key cooperate on one search: the store hands each pending trial to
// exactly one of them and never lets the experiment exceed its budget.
//
// # Function objective
//
//	client, _ := tuner.New(ctx, tuner.WithSQLite("trials.db"))
//	defer client.Close()
//
//	sp, _ := tuner.ParseSpace([]byte(`
//	parameters:
//	  - name: lr
//	    type: loguniform
//	    low: 0.0001
//	    high: 0.1
//	`))
//	res, _ := client.Search(ctx, "lr-sweep", sp, tuner.Func(func(ctx context.Context, a tuner.Assignment) (float64, error) {
//	    lr, _ := a.Get("lr")
//	    return train(lr), nil
//	}), tuner.MaxEvals(40))
//
// # Command objective
//
//	obj := tuner.Commands("python train.py", "--data data/", "python eval.py")
//	res, _ := client.Search(ctx, "mlp", sp, obj, tuner.Maximize())
package tuner
