package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"violet_go/pkg/bench"
	"violet_go/pkg/gc"
	"violet_go/pkg/heap"
)

var (
	stepsFlag = flag.Int("steps", 0, "Override workload step count")
	seedFlag  = flag.Int64("seed", 0, "Override workload random seed")
	limitFlag = flag.String("limit", "", "Heap limit override, e.g. 64MB")
	pauseFlag = flag.Float64("pause", 0, "Pause multiplier override")
	mulFlag   = flag.Float64("stepmul", 0, "Step multiplier override")
	debugFlag = flag.Bool("debug", false, "Enable collector debug checks")
	statsFlag = flag.Bool("stats", false, "Print full collector statistics")
	replFlag  = flag.Bool("repl", false, "Start the interactive heap shell")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Violet Go - Incremental GC Workbench\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [workload.yaml ...]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                           # Run the built-in workload\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -stats churn.yaml         # Run a workload file, full stats\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -limit 16MB -steps 100000 # Constrained heap, longer run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -repl                     # Poke at a live heap by hand\n", os.Args[0])
	}
	flag.Parse()

	if *replFlag {
		runREPL()
		return
	}

	if flag.NArg() == 0 {
		runWorkload(bench.Default())
		return
	}
	for _, path := range flag.Args() {
		w, err := bench.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		runWorkload(w)
	}
}

func runWorkload(w bench.Workload) {
	if *stepsFlag > 0 {
		w.Steps = *stepsFlag
	}
	if *seedFlag != 0 {
		w.Seed = *seedFlag
	}
	if *limitFlag != "" {
		v, err := bytesize.Parse(*limitFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bad heap limit %q: %v\n", *limitFlag, err)
			os.Exit(1)
		}
		w.GC.HeapLimit = bench.ByteAmount(v)
	}
	if *pauseFlag > 0 {
		w.GC.PauseMultiplier = *pauseFlag
	}
	if *mulFlag > 0 {
		w.GC.StepMultiplier = *mulFlag
	}
	if *debugFlag {
		w.GC.DebugChecks = true
	}

	rep, err := bench.Run(w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *statsFlag {
		fmt.Println(rep.String())
	} else {
		fmt.Printf("workload %q: %d steps in %v, %d cycles, %s live\n",
			rep.Name, rep.Steps, rep.Duration,
			rep.Stats.CyclesCompleted, bytesize.ByteSize(rep.Live))
	}
}

// replState is the live heap the shell manipulates.
type replState struct {
	col   *gc.Collector
	roots *heap.RootSet
	out   *bufio.Writer
	tty   bool
}

func runREPL() {
	out := bufio.NewWriter(colorable.NewColorableStdout())
	st := &replState{
		roots: heap.NewRootSet(),
		out:   out,
		tty:   isatty.IsTerminal(os.Stdout.Fd()),
	}
	cfg := gc.DefaultConfig()
	cfg.DebugChecks = *debugFlag
	cfg.ErrorSink = func(err error) {
		fmt.Fprintf(out, "gc: %v\n", err)
	}
	if *limitFlag != "" {
		if v, err := bytesize.Parse(*limitFlag); err == nil {
			cfg.HeapLimit = v
		}
	}
	st.col = gc.New(cfg)
	st.col.SetRootProvider(st.roots)

	fmt.Fprintln(out, "Violet heap shell")
	fmt.Fprintln(out, "Type 'help' for commands, 'quit' to exit")
	out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "violet> ")
		out.Flush()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(out, "parse error: %v\n", err)
			out.Flush()
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			break
		}
		if err := st.dispatch(args); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		out.Flush()
	}
	// Tear the heap down on the way out; pending finalizers print here.
	st.col.Close()
	out.Flush()
}

func (st *replState) dispatch(args []string) error {
	switch args[0] {
	case "help":
		st.printHelp()
		return nil
	case "new":
		return st.cmdNew(args[1:])
	case "set":
		return st.cmdSet(args[1:])
	case "get":
		return st.cmdGet(args[1:])
	case "push":
		return st.cmdPush(args[1:])
	case "pop":
		return st.cmdPop(args[1:])
	case "drop":
		if len(args) != 2 {
			return fmt.Errorf("usage: drop <name>")
		}
		st.roots.Set(args[1], heap.Nil)
		return nil
	case "fin":
		return st.cmdFin(args[1:])
	case "step":
		budget := 0
		if len(args) > 1 {
			v, err := bytesize.Parse(args[1])
			if err != nil {
				return fmt.Errorf("bad budget %q: %v", args[1], err)
			}
			budget = int(v)
		}
		status := st.col.Step(budget)
		fmt.Fprintf(st.out, "%s, phase now %s\n", status, st.col.Phase())
		return nil
	case "collect":
		st.col.FullCollect()
		fmt.Fprintf(st.out, "full collection done, %s live\n",
			bytesize.ByteSize(st.col.LiveEstimate()))
		return nil
	case "stats":
		fmt.Fprintln(st.out, st.col.Stats().String())
		return nil
	case "dump":
		st.col.DumpHeap(st.out, st.tty)
		return nil
	case "check":
		if err := st.col.CheckInvariants(); err != nil {
			return err
		}
		fmt.Fprintln(st.out, "ok")
		return nil
	case "phase":
		fmt.Fprintf(st.out, "%s, usage %s, debt %d\n",
			st.col.Phase(), bytesize.ByteSize(st.col.Usage()), st.col.Debt())
		return nil
	default:
		return fmt.Errorf("unknown command %q (use 'help')", args[0])
	}
}

func (st *replState) cmdNew(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: new <kind> <name> [args]")
	}
	kind, name := args[0], args[1]
	var obj heap.Object
	switch kind {
	case "string":
		text := ""
		if len(args) > 2 {
			text = args[2]
		}
		obj = heap.NewString(text)
	case "cell":
		obj = heap.NewCell(heap.Nil, heap.Nil)
	case "tuple":
		n := 2
		if len(args) > 2 {
			v, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("bad arity %q", args[2])
			}
			n = v
		}
		obj = heap.NewTuple(n)
	case "table":
		t := heap.NewTable(0, 8)
		if len(args) > 2 {
			switch args[2] {
			case "weak-keys":
				t.SetWeakMode(heap.WeakKeys)
			case "weak-values":
				t.SetWeakMode(heap.WeakValues)
			case "ephemeron":
				t.SetWeakMode(heap.WeakEphemeron)
			case "strong":
			default:
				return fmt.Errorf("unknown weak mode %q", args[2])
			}
		}
		obj = t
	case "thread":
		obj = heap.NewThread(8)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	if err := st.col.Alloc(obj); err != nil {
		return err
	}
	st.roots.Set(name, heap.NewObject(obj))
	fmt.Fprintf(st.out, "%s %s = %p\n", kind, name, obj)
	return nil
}

// parseValue turns a shell token into a heap value: nil, booleans,
// numbers, @name references, and anything else becomes a fresh
// string object.
func (st *replState) parseValue(tok string) (heap.Value, error) {
	switch tok {
	case "nil":
		return heap.Nil, nil
	case "true":
		return heap.NewBool(true), nil
	case "false":
		return heap.NewBool(false), nil
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return heap.NewNumber(n), nil
	}
	if strings.HasPrefix(tok, "@") {
		v := st.roots.Get(tok[1:])
		if v.IsNil() {
			return heap.Nil, fmt.Errorf("no global %q", tok[1:])
		}
		return v, nil
	}
	s := heap.NewString(tok)
	if err := st.col.Alloc(s); err != nil {
		return heap.Nil, err
	}
	return heap.NewObject(s), nil
}

func (st *replState) lookup(name string) (heap.Object, error) {
	v := st.roots.Get(name)
	if !v.IsObject() {
		return nil, fmt.Errorf("no global %q", name)
	}
	return v.Obj, nil
}

func (st *replState) cmdSet(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: set <name> <key> <value>")
	}
	obj, err := st.lookup(args[0])
	if err != nil {
		return err
	}
	val, err := st.parseValue(args[2])
	if err != nil {
		return err
	}
	switch c := obj.(type) {
	case *heap.Table:
		key, err := st.parseValue(args[1])
		if err != nil {
			return err
		}
		st.col.WriteBarrier(c, key)
		st.col.WriteBarrier(c, val)
		if err := c.Set(key, val); err != nil {
			return err
		}
		st.col.Reaccount(c)
	case *heap.Tuple:
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad index %q", args[1])
		}
		st.col.WriteBarrier(c, val)
		c.Set(i, val)
	case *heap.Cell:
		st.col.WriteBarrier(c, val)
		switch args[1] {
		case "car", "0":
			c.Car = val
		case "cdr", "1":
			c.Cdr = val
		default:
			return fmt.Errorf("cell field is car or cdr")
		}
	case *heap.Thread:
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad slot %q", args[1])
		}
		c.SetSlot(i, val)
	default:
		return fmt.Errorf("%q is not a container", args[0])
	}
	return nil
}

func (st *replState) cmdGet(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <name> <key>")
	}
	obj, err := st.lookup(args[0])
	if err != nil {
		return err
	}
	var v heap.Value
	switch c := obj.(type) {
	case *heap.Table:
		key, err := st.parseValue(args[1])
		if err != nil {
			return err
		}
		v = c.Get(key)
	case *heap.Tuple:
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad index %q", args[1])
		}
		v = c.Get(i)
	case *heap.Cell:
		if args[1] == "car" || args[1] == "0" {
			v = c.Car
		} else {
			v = c.Cdr
		}
	case *heap.Thread:
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad slot %q", args[1])
		}
		v = c.Slot(i)
	default:
		return fmt.Errorf("%q is not a container", args[0])
	}
	fmt.Fprintf(st.out, "%s\n", v)
	return nil
}

func (st *replState) cmdPush(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: push <thread> <value>")
	}
	obj, err := st.lookup(args[0])
	if err != nil {
		return err
	}
	th, ok := obj.(*heap.Thread)
	if !ok {
		return fmt.Errorf("%q is not a thread", args[0])
	}
	v, err := st.parseValue(args[1])
	if err != nil {
		return err
	}
	th.Push(v)
	st.col.Reaccount(th)
	return nil
}

func (st *replState) cmdPop(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pop <thread>")
	}
	obj, err := st.lookup(args[0])
	if err != nil {
		return err
	}
	th, ok := obj.(*heap.Thread)
	if !ok {
		return fmt.Errorf("%q is not a thread", args[0])
	}
	fmt.Fprintf(st.out, "%s\n", th.Pop())
	return nil
}

func (st *replState) cmdFin(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: fin <name>")
	}
	obj, err := st.lookup(args[0])
	if err != nil {
		return err
	}
	name := args[0]
	return st.col.RegisterFinalizer(obj, func(o heap.Object) {
		fmt.Fprintf(st.out, "finalized %s (%s@%p)\n", name, o.GCHeader().Kind(), o)
	})
}

func (st *replState) printHelp() {
	out := st.out
	fmt.Fprintln(out, "Objects:")
	fmt.Fprintln(out, "  new string <name> [text]      - allocate a string")
	fmt.Fprintln(out, "  new cell <name>               - allocate a two-field cell")
	fmt.Fprintln(out, "  new tuple <name> [arity]      - allocate a fixed tuple")
	fmt.Fprintln(out, "  new table <name> [mode]       - allocate a table (strong,")
	fmt.Fprintln(out, "                                  weak-keys, weak-values, ephemeron)")
	fmt.Fprintln(out, "  new thread <name>             - allocate a thread")
	fmt.Fprintln(out, "  set <name> <key> <value>      - barriered store")
	fmt.Fprintln(out, "  get <name> <key>              - read a slot or entry")
	fmt.Fprintln(out, "  push/pop <thread> [value]     - barrier-free stack ops")
	fmt.Fprintln(out, "  drop <name>                   - unbind a global")
	fmt.Fprintln(out, "  fin <name>                    - attach a printing finalizer")
	fmt.Fprintln(out, "Values: nil, true, false, numbers, @global, any other word")
	fmt.Fprintln(out, "        becomes a fresh string")
	fmt.Fprintln(out, "Collector:")
	fmt.Fprintln(out, "  step [budget]                 - run one increment, e.g. step 8KB")
	fmt.Fprintln(out, "  collect                       - full stop-the-world cycle")
	fmt.Fprintln(out, "  dump | stats | check | phase  - inspect the heap")
	fmt.Fprintln(out, "  quit                          - exit")
}
