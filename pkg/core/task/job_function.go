package task

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// JobFunc 统一的叶子任务函数签名（对外导出）
// 由 WrapJobFunc 通过反射包装任意函数得到，Single 在每次尝试时调用它
type JobFunc func(ctx context.Context, args []interface{}) (interface{}, error)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// WrapJobFunc 将任意函数包装为 JobFunc（对外导出）
// 支持的函数形式：
//
//	func([receiver,] [ctx context.Context,] args...) ([result,] [error])
//
// receiver 不为 nil 时作为第一个参数传入（方法表达式，例如 (*Counter).Incr）。
// 参数按位置转换为形参类型；缺少的参数使用零值，多余的参数返回错误。
func WrapJobFunc(fn interface{}, receiver interface{}) (JobFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("任务函数不能为空")
	}
	fnValue := reflect.ValueOf(fn)
	fnType := fnValue.Type()
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("参数必须是函数类型，当前类型: %v", fnType.Kind())
	}

	next := 0
	var recvValue reflect.Value
	if receiver != nil {
		if fnType.NumIn() == 0 {
			return nil, fmt.Errorf("绑定接收者的函数至少需要一个参数")
		}
		recvValue = reflect.ValueOf(receiver)
		if !recvValue.Type().AssignableTo(fnType.In(0)) {
			return nil, fmt.Errorf("接收者类型 %v 与函数第一个参数 %v 不匹配", recvValue.Type(), fnType.In(0))
		}
		next++
	}

	takesCtx := fnType.NumIn() > next && fnType.In(next) == contextType
	if takesCtx {
		next++
	}
	firstArg := next

	returnsErr, returnsValue, err := inspectResults(fnType)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, args []interface{}) (interface{}, error) {
		in, err := buildCallArgs(fnType, firstArg, args)
		if err != nil {
			return nil, err
		}
		if takesCtx {
			in[firstArg-1] = reflect.ValueOf(ctx)
		}
		if receiver != nil {
			in[0] = recvValue
		}

		var out []reflect.Value
		if fnType.IsVariadic() {
			out = fnValue.CallSlice(in)
		} else {
			out = fnValue.Call(in)
		}
		return collectResults(out, returnsValue, returnsErr)
	}, nil
}

// inspectResults 检查返回值形式
func inspectResults(fnType reflect.Type) (returnsErr, returnsValue bool, err error) {
	switch fnType.NumOut() {
	case 0:
		return false, false, nil
	case 1:
		if fnType.Out(0) == errorType {
			return true, false, nil
		}
		return false, true, nil
	case 2:
		if fnType.Out(1) != errorType {
			return false, false, fmt.Errorf("函数最后一个返回值必须是error，当前类型: %v", fnType.Out(1))
		}
		return true, true, nil
	default:
		return false, false, fmt.Errorf("函数最多返回 (result, error)，当前返回值数量: %d", fnType.NumOut())
	}
}

// buildCallArgs 将位置参数转换为形参类型，前 firstArg 个位置由调用方填充
func buildCallArgs(fnType reflect.Type, firstArg int, args []interface{}) ([]reflect.Value, error) {
	numIn := fnType.NumIn()
	declared := numIn - firstArg
	variadic := fnType.IsVariadic()
	if !variadic && len(args) > declared {
		return nil, fmt.Errorf("参数过多: 需要%d个，实际%d个", declared, len(args))
	}

	in := make([]reflect.Value, numIn)
	for i := firstArg; i < numIn; i++ {
		paramType := fnType.In(i)
		pos := i - firstArg

		if variadic && i == numIn-1 {
			rest := reflect.MakeSlice(paramType, 0, 0)
			for j := pos; j < len(args); j++ {
				v, err := convertParamToType(args[j], paramType.Elem())
				if err != nil {
					return nil, fmt.Errorf("参数转换失败 [参数%d, 类型%v]: %w", j, paramType.Elem(), err)
				}
				rest = reflect.Append(rest, v)
			}
			in[i] = rest
			continue
		}

		var raw interface{}
		if pos < len(args) {
			raw = args[pos]
		}
		v, err := convertParamToType(raw, paramType)
		if err != nil {
			return nil, fmt.Errorf("参数转换失败 [参数%d, 类型%v]: %w", pos, paramType, err)
		}
		in[i] = v
	}
	return in, nil
}

// collectResults 将反射调用结果还原为 (result, error)
func collectResults(out []reflect.Value, returnsValue, returnsErr bool) (interface{}, error) {
	var result interface{}
	var err error
	if returnsValue {
		result = out[0].Interface()
	}
	if returnsErr {
		if errValue := out[len(out)-1]; !errValue.IsNil() {
			err = errValue.Interface().(error)
		}
	}
	return result, err
}

// convertParamToType 将参数值转换为指定类型
// 支持直接赋值、数值间转换、字符串解析，以及通过JSON在 map/slice 与结构体之间转换
func convertParamToType(value interface{}, targetType reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(targetType), nil
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(targetType) {
		return v, nil
	}

	if str, ok := value.(string); ok {
		return convertStringToType(str, targetType)
	}

	if isNumber(v.Kind()) && isNumber(targetType.Kind()) {
		return v.Convert(targetType), nil
	}
	if targetType.Kind() == reflect.String {
		// 避免 int -> string 被当作 rune 转换
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType), nil
	}
	if v.Type().ConvertibleTo(targetType) && v.Kind() == targetType.Kind() {
		return v.Convert(targetType), nil
	}

	switch targetType.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Ptr:
		data, err := json.Marshal(value)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("JSON序列化失败: %w", err)
		}
		return unmarshalInto(data, targetType)
	}

	return reflect.Value{}, fmt.Errorf("无法将类型 %v 转换为 %v", v.Type(), targetType)
}

// convertStringToType 将字符串解析为指定类型
func convertStringToType(value string, targetType reflect.Type) (reflect.Value, error) {
	switch targetType.Kind() {
	case reflect.String:
		return reflect.ValueOf(value).Convert(targetType), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if value == "" {
			return reflect.Zero(targetType), nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("无法转换为int: %w", err)
		}
		return reflect.ValueOf(n).Convert(targetType), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if value == "" {
			return reflect.Zero(targetType), nil
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("无法转换为uint: %w", err)
		}
		return reflect.ValueOf(n).Convert(targetType), nil
	case reflect.Float32, reflect.Float64:
		if value == "" {
			return reflect.Zero(targetType), nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("无法转换为float: %w", err)
		}
		return reflect.ValueOf(f).Convert(targetType), nil
	case reflect.Bool:
		if value == "" {
			return reflect.Zero(targetType), nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("无法转换为bool: %w", err)
		}
		return reflect.ValueOf(b).Convert(targetType), nil
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Ptr:
		if value == "" {
			return reflect.Zero(targetType), nil
		}
		return unmarshalInto([]byte(value), targetType)
	default:
		return reflect.Value{}, fmt.Errorf("不支持的参数类型: %v", targetType)
	}
}

func unmarshalInto(data []byte, targetType reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(targetType)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("JSON反序列化失败: %w", err)
	}
	return ptr.Elem(), nil
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
