/*
Package runner drives a run from the terminal or another process: it starts
(or attaches to) a run, waits until it rests, and when the run pauses at a
review barrier it hands the questions to a Handler and resumes with the
human decision.

# Key Components

  - Runner: the wait, review, resume loop.
  - Handler: decouples how the review is presented and answered.
  - TextHandler: interactive prompts for terminal usage, rendered as markdown.
  - JSONHandler: JSON lines on stdout and stdin for scripted drivers.
  - AutoHandler: headless approval (or rejection) with the recommended answers.

# Usage

	r := runner.New(
		runner.WithHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	rec, err := r.Run(ctx, engine, map[string]any{"task": "predict churn"})
	if err != nil {
		log.Fatal(err)
	}
*/
package runner
