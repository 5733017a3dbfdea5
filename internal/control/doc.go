// Package control implements the visual servo task: it stacks the errors and
// interaction rows of registered feature pairs and computes the camera
// velocity
//
//	v = -λ · L⁺ · (s - s*)
//
// where L⁺ is the Moore-Penrose pseudo-inverse of the stacked interaction
// matrix.
//
// # Usage
//
//	task := control.NewTask(control.WithGain(1), control.WithPolicy(control.Current))
//	task.AddFeature(cur, des)
//	task.AddFeature(curInv, desInv, control.MaskOf(0, 1))
//	v, err := task.ComputeControlLaw()
//	...
//	task.Kill()
package control
